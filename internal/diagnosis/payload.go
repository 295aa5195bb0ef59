package diagnosis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the data collected for one stage. Every stage has exactly one
// concrete variant; the variant is chosen by stage id.
type Payload interface {
	Stage() StageID
	// Present lists the required-input names this payload carries.
	Present() []string
	// Check reports invalid values. Missing fields are not reported here.
	Check() []FieldIssue
	// Media lists the uploaded blobs the payload refers to.
	Media() []MediaRef
}

// FieldIssue describes one missing or invalid input field.
type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// MediaRef points at an uploaded image or recording in the media store.
type MediaRef struct {
	Key         string `json:"key,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

func (m *MediaRef) present() bool {
	return m != nil && strings.TrimSpace(m.Key) != ""
}

var payloadFactories = map[StageID]func() Payload{
	StageBasicInfo:  func() Payload { return &BasicInfo{} },
	StageInquiry:    func() Payload { return &Inquiry{} },
	StageTongue:     func() Payload { return &TongueImage{} },
	StageFace:       func() Payload { return &FaceImage{} },
	StageAudio:      func() Payload { return &VoiceRecording{} },
	StagePulse:      func() Payload { return &PulseReading{} },
	StageDeviceSync: func() Payload { return &DeviceSync{} },
	StageSynthesis:  func() Payload { return &Synthesis{} },
}

// DecodePayload decodes raw JSON into the variant registered for stage.
func DecodePayload(stage StageID, raw json.RawMessage) (Payload, error) {
	factory, ok := payloadFactories[stage]
	if !ok {
		return nil, fmt.Errorf("%w: stage %q", ErrNotFound, stage)
	}
	p := factory()
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", stage, err)
	}
	return p, nil
}

// Payloads maps stage ids to their collected payloads. It decodes each entry
// into the variant of its key.
type Payloads map[StageID]Payload

func (p *Payloads) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var raw map[StageID]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Payloads, len(raw))
	for id, msg := range raw {
		pl, err := DecodePayload(id, msg)
		if err != nil {
			return err
		}
		out[id] = pl
	}
	*p = out
	return nil
}

// StageInput is one submission from the wizard for a single stage.
type StageInput struct {
	Stage   StageID `json:"stage"`
	Payload Payload `json:"data"`
}

func (in *StageInput) UnmarshalJSON(b []byte) error {
	var wire struct {
		Stage StageID         `json:"stage"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	stage := StageID(strings.TrimSpace(string(wire.Stage)))
	pl, err := DecodePayload(stage, wire.Data)
	if err != nil {
		return err
	}
	in.Stage = stage
	in.Payload = pl
	return nil
}

// mergeDraft overlays the fields set in next onto prev. Fields are only ever
// added or overwritten, never cleared.
func mergeDraft(prev, next Payload) (Payload, error) {
	if prev == nil {
		return next, nil
	}
	base := map[string]json.RawMessage{}
	if err := remarshal(prev, &base); err != nil {
		return nil, err
	}
	overlay := map[string]json.RawMessage{}
	if err := remarshal(next, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		base[k] = v
	}
	b, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	return DecodePayload(next.Stage(), b)
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// BasicInfo holds demographics.
type BasicInfo struct {
	Name     string  `json:"name,omitempty"`
	Age      int     `json:"age,omitempty"`
	Gender   string  `json:"gender,omitempty"`
	HeightCM float64 `json:"height_cm,omitempty"`
	WeightKG float64 `json:"weight_kg,omitempty"`
}

func (p *BasicInfo) Stage() StageID { return StageBasicInfo }

func (p *BasicInfo) Present() []string {
	var out []string
	if strings.TrimSpace(p.Name) != "" {
		out = append(out, "name")
	}
	if p.Age > 0 {
		out = append(out, "age")
	}
	return out
}

func (p *BasicInfo) Check() []FieldIssue {
	var out []FieldIssue
	if p.Age < 0 || p.Age > 150 {
		out = append(out, FieldIssue{Field: "age", Reason: "must be between 0 and 150"})
	}
	if p.HeightCM < 0 {
		out = append(out, FieldIssue{Field: "height_cm", Reason: "must not be negative"})
	}
	if p.WeightKG < 0 {
		out = append(out, FieldIssue{Field: "weight_kg", Reason: "must not be negative"})
	}
	return out
}

func (p *BasicInfo) Media() []MediaRef { return nil }

// Symptom is one reported complaint.
type Symptom struct {
	Name         string `json:"name"`
	Severity     int    `json:"severity"`
	DurationDays int    `json:"duration_days,omitempty"`
}

// Inquiry is the questioning stage (问诊).
type Inquiry struct {
	ChiefComplaint string    `json:"chief_complaint,omitempty"`
	Symptoms       []Symptom `json:"symptoms,omitempty"`
	Urgent         bool      `json:"urgent,omitempty"`
}

func (p *Inquiry) Stage() StageID { return StageInquiry }

func (p *Inquiry) Present() []string {
	var out []string
	if strings.TrimSpace(p.ChiefComplaint) != "" {
		out = append(out, "chief_complaint")
	}
	if len(p.Symptoms) > 0 {
		out = append(out, "symptoms")
	}
	return out
}

func (p *Inquiry) Check() []FieldIssue {
	var out []FieldIssue
	for i, s := range p.Symptoms {
		field := fmt.Sprintf("symptoms[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			out = append(out, FieldIssue{Field: field + ".name", Reason: "is required"})
		}
		if s.Severity < 1 || s.Severity > 10 {
			out = append(out, FieldIssue{Field: field + ".severity", Reason: "must be between 1 and 10"})
		}
		if s.DurationDays < 0 {
			out = append(out, FieldIssue{Field: field + ".duration_days", Reason: "must not be negative"})
		}
	}
	return out
}

func (p *Inquiry) Media() []MediaRef { return nil }

// TongueImage is the tongue inspection stage.
type TongueImage struct {
	Image *MediaRef `json:"image,omitempty"`
	Notes string    `json:"notes,omitempty"`
}

func (p *TongueImage) Stage() StageID { return StageTongue }

func (p *TongueImage) Present() []string {
	if p.Image.present() {
		return []string{"image"}
	}
	return nil
}

func (p *TongueImage) Check() []FieldIssue { return checkMedia("image", p.Image, "image/") }

func (p *TongueImage) Media() []MediaRef { return mediaList(p.Image) }

// FaceImage is the facial inspection stage.
type FaceImage struct {
	Image *MediaRef `json:"image,omitempty"`
	Notes string    `json:"notes,omitempty"`
}

func (p *FaceImage) Stage() StageID { return StageFace }

func (p *FaceImage) Present() []string {
	if p.Image.present() {
		return []string{"image"}
	}
	return nil
}

func (p *FaceImage) Check() []FieldIssue { return checkMedia("image", p.Image, "image/") }

func (p *FaceImage) Media() []MediaRef { return mediaList(p.Image) }

// VoiceRecording is the listening stage (闻诊).
type VoiceRecording struct {
	Recording  *MediaRef `json:"recording,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
}

func (p *VoiceRecording) Stage() StageID { return StageAudio }

func (p *VoiceRecording) Present() []string {
	if p.Recording.present() {
		return []string{"recording"}
	}
	return nil
}

func (p *VoiceRecording) Check() []FieldIssue {
	return checkMedia("recording", p.Recording, "audio/")
}

func (p *VoiceRecording) Media() []MediaRef { return mediaList(p.Recording) }

// PulseSample is one pulse reading at a wrist position.
type PulseSample struct {
	Position string `json:"position"`
	Side     string `json:"side"`
	RateBPM  int    `json:"rate_bpm"`
	Quality  string `json:"quality,omitempty"`
}

// PulseReading is the pulse-taking stage.
type PulseReading struct {
	Readings []PulseSample `json:"readings,omitempty"`
}

func (p *PulseReading) Stage() StageID { return StagePulse }

func (p *PulseReading) Present() []string {
	if len(p.Readings) > 0 {
		return []string{"readings"}
	}
	return nil
}

func (p *PulseReading) Check() []FieldIssue {
	var out []FieldIssue
	for i, r := range p.Readings {
		field := fmt.Sprintf("readings[%d]", i)
		switch strings.ToLower(strings.TrimSpace(r.Position)) {
		case "cun", "guan", "chi":
		default:
			out = append(out, FieldIssue{Field: field + ".position", Reason: "must be cun, guan or chi"})
		}
		switch strings.ToLower(strings.TrimSpace(r.Side)) {
		case "left", "right":
		default:
			out = append(out, FieldIssue{Field: field + ".side", Reason: "must be left or right"})
		}
		if r.RateBPM < 20 || r.RateBPM > 250 {
			out = append(out, FieldIssue{Field: field + ".rate_bpm", Reason: "must be between 20 and 250"})
		}
	}
	return out
}

func (p *PulseReading) Media() []MediaRef { return nil }

// DeviceSample is one telemetry value pulled from a wearable.
type DeviceSample struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
}

// DeviceSync carries telemetry from a paired device.
type DeviceSync struct {
	DeviceID string         `json:"device_id,omitempty"`
	Samples  []DeviceSample `json:"samples,omitempty"`
}

func (p *DeviceSync) Stage() StageID { return StageDeviceSync }

func (p *DeviceSync) Present() []string {
	var out []string
	if strings.TrimSpace(p.DeviceID) != "" {
		out = append(out, "device_id")
	}
	if len(p.Samples) > 0 {
		out = append(out, "samples")
	}
	return out
}

func (p *DeviceSync) Check() []FieldIssue {
	var out []FieldIssue
	for i, s := range p.Samples {
		if strings.TrimSpace(s.Metric) == "" {
			out = append(out, FieldIssue{Field: fmt.Sprintf("samples[%d].metric", i), Reason: "is required"})
		}
	}
	return out
}

func (p *DeviceSync) Media() []MediaRef { return nil }

// Synthesis is the final confirmation that triggers the report.
type Synthesis struct {
	Confirmed    bool   `json:"confirmed,omitempty"`
	PatientNotes string `json:"patient_notes,omitempty"`
}

func (p *Synthesis) Stage() StageID { return StageSynthesis }

func (p *Synthesis) Present() []string {
	if p.Confirmed {
		return []string{"confirmed"}
	}
	return nil
}

func (p *Synthesis) Check() []FieldIssue { return nil }

func (p *Synthesis) Media() []MediaRef { return nil }

func checkMedia(field string, ref *MediaRef, prefix string) []FieldIssue {
	if ref == nil {
		return nil
	}
	if strings.TrimSpace(ref.Key) == "" {
		return []FieldIssue{{Field: field + ".key", Reason: "is required"}}
	}
	if ct := strings.TrimSpace(ref.ContentType); ct != "" && !strings.HasPrefix(ct, prefix) {
		return []FieldIssue{{Field: field + ".content_type", Reason: "must be " + prefix + "*"}}
	}
	return nil
}

func mediaList(ref *MediaRef) []MediaRef {
	if !ref.present() {
		return nil
	}
	return []MediaRef{*ref}
}
