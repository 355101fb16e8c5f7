package room

// State is the authoritative playback snapshot for a room (spec §3,
// RoomState). UpdatedAt is always server-assigned; see Manager.UpdateState.
type State struct {
	URL          string  `json:"url"`
	Title        string  `json:"title"`
	CurrentTime  float64 `json:"currentTime"`
	Duration     float64 `json:"duration"`
	Paused       bool    `json:"paused"`
	PlaybackRate float64 `json:"playbackRate"`
	SourceType   string  `json:"sourceType"`
	UpdatedAt    int64   `json:"updatedAt"`
	Cover        *string `json:"cover,omitempty"`
}

// merge implements the member-update policy of spec §4.4: url, title,
// duration, sourceType, and cover are carried over from the prior state;
// currentTime, paused, and playbackRate come from the incoming payload.
func merge(prior, incoming State, updatedAtMs int64) State {
	return State{
		URL:          prior.URL,
		Title:        prior.Title,
		CurrentTime:  incoming.CurrentTime,
		Duration:     prior.Duration,
		Paused:       incoming.Paused,
		PlaybackRate: incoming.PlaybackRate,
		SourceType:   prior.SourceType,
		UpdatedAt:    updatedAtMs,
		Cover:        prior.Cover,
	}
}
