package domain

// StreamKind identifies the elementary stream type of a descriptor.
type StreamKind string

const (
	StreamKindAudio StreamKind = "audio"
	StreamKindVideo StreamKind = "video"
)

// StreamDescriptor is one downloadable stream from a relay manifest.
type StreamDescriptor struct {
	Kind            StreamKind `json:"kind"`
	URL             string     `json:"url"`
	ContainerFormat string     `json:"format"`
	QualityLabel    string     `json:"quality"`
	MimeType        string     `json:"mime_type"`
	Codec           string     `json:"codec,omitempty"`
	Bitrate         int64      `json:"bitrate"`
	IsVideoOnly     bool       `json:"video_only"`
	Width           int        `json:"width,omitempty"`
	Height          int        `json:"height,omitempty"`
	FPS             int        `json:"fps,omitempty"`
	ContentLength   int64      `json:"content_length"`

	Itag             int    `json:"itag,omitempty"`
	AudioTrackID     string `json:"audio_track_id,omitempty"`
	AudioTrackName   string `json:"audio_track_name,omitempty"`
	AudioTrackLocale string `json:"audio_track_locale,omitempty"`
	InitStart        int64  `json:"init_start,omitempty"`
	InitEnd          int64  `json:"init_end,omitempty"`
	IndexStart       int64  `json:"index_start,omitempty"`
	IndexEnd         int64  `json:"index_end,omitempty"`
}

// Manifest is the parsed stream metadata for one content id, as served by
// one proxy. It is never modified after Resolve returns it.
type Manifest struct {
	ContentID    string
	ProxyURL     string
	Title        string
	Description  string
	AudioStreams []StreamDescriptor
	VideoStreams []StreamDescriptor
}

// BestAudio returns the first audio stream; relays list them best first.
func (m *Manifest) BestAudio() (StreamDescriptor, error) {
	return first(m.AudioStreams)
}

// BestVideo returns the first video stream; relays list them best first.
func (m *Manifest) BestVideo() (StreamDescriptor, error) {
	return first(m.VideoStreams)
}

func first(streams []StreamDescriptor) (StreamDescriptor, error) {
	if len(streams) == 0 {
		return StreamDescriptor{}, ErrNoStreamsAvailable
	}
	return streams[0], nil
}
