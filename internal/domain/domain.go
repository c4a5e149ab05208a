package domain

import "time"

type SignalDirection string

const (
	DirectionLong  SignalDirection = "long"
	DirectionShort SignalDirection = "short"
	DirectionHold  SignalDirection = "hold"
)

// MLFeatureRow is one engineered observation for a symbol at OpenTime.
// TargetReturn is the forward close-to-close return and stays nil until the
// horizon has elapsed.
type MLFeatureRow struct {
	Symbol       string
	Interval     string
	OpenTime     time.Time
	Ret1         float64
	Ret4         float64
	Ret12        float64
	Ret24        float64
	Volatility6  float64
	Volatility24 float64
	VolumeZ24    float64
	RSI14        float64
	MACDLine     float64
	MACDSignal   float64
	MACDHist     float64
	BBPos        float64
	BBWidth      float64
	TargetReturn *float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type MLModelVersion struct {
	ID                 int64
	ModelKey           string
	Version            int
	FeatureSpecVersion string
	TrainedFrom        time.Time
	TrainedTo          time.Time
	TrainedAt          time.Time
	HyperparamsJSON    string
	MetricsJSON        string
	ArtifactFormat     string
	ArtifactBlob       []byte
	IsActive           bool
	ActivatedAt        *time.Time
	CreatedAt          time.Time
}

// MLPrediction is a persisted ensemble forecast. The resolution fields are
// filled once the target candle closes.
type MLPrediction struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	Interval     string          `json:"interval"`
	OpenTime     time.Time       `json:"open_time"`
	TargetTime   time.Time       `json:"target_time"`
	ModelKey     string          `json:"model_key"`
	ModelVersion int             `json:"model_version"`
	Mode         string          `json:"mode"`
	Value        float64         `json:"value"`
	Direction    SignalDirection `json:"direction"`
	WeightsJSON  string          `json:"weights,omitempty"`
	DetailsJSON  string          `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
	ActualReturn *float64        `json:"actual_return,omitempty"`
	AbsError     *float64        `json:"abs_error,omitempty"`
	IsCorrect    *bool           `json:"is_correct,omitempty"`
}

// Resolved reports whether the realised outcome has been recorded.
func (p MLPrediction) Resolved() bool {
	return p.ResolvedAt != nil && p.ActualReturn != nil
}
