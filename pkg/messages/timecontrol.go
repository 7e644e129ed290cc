package messages

import (
	"encoding/json"
	"fmt"
)

// Time control system names as the server spells them.
const (
	SystemByoyomi  = "byoyomi"
	SystemCanadian = "canadian"
	SystemFischer  = "fischer"
	SystemSimple   = "simple"
	SystemAbsolute = "absolute"
	SystemNone     = "none"
)

// TimeControl is one of Byoyomi, Canadian, Fischer, Simple or Absolute.
type TimeControl interface {
	System() string
	timeControl()
}

// Byoyomi is Japanese byoyomi: a main time bank then Periods renewable periods.
type Byoyomi struct {
	MainTime   float64
	PeriodTime float64
	Periods    int
}

// Canadian requires StonesPerPeriod stones within each PeriodTime after main time.
type Canadian struct {
	MainTime        float64
	PeriodTime      float64
	StonesPerPeriod int
}

// Fischer adds TimeIncrement after every move, capped at MaxTime.
type Fischer struct {
	InitialTime   float64
	TimeIncrement float64
	MaxTime       float64
}

// Simple gives a fixed allowance per move.
type Simple struct {
	PerMove float64
}

// Absolute is a single bank for the whole game.
type Absolute struct {
	TotalTime float64
}

func (Byoyomi) System() string  { return SystemByoyomi }
func (Canadian) System() string { return SystemCanadian }
func (Fischer) System() string  { return SystemFischer }
func (Simple) System() string   { return SystemSimple }
func (Absolute) System() string { return SystemAbsolute }

func (Byoyomi) timeControl()  {}
func (Canadian) timeControl() {}
func (Fischer) timeControl()  {}
func (Simple) timeControl()   {}
func (Absolute) timeControl() {}

// RawTimeControl is the flat object the server sends. Challenges name the
// system in "time_control", game data in "system".
type RawTimeControl struct {
	System          string  `json:"system"`
	TimeControl     string  `json:"time_control"`
	Speed           string  `json:"speed"`
	MainTime        float64 `json:"main_time"`
	PeriodTime      float64 `json:"period_time"`
	Periods         int     `json:"periods"`
	StonesPerPeriod int     `json:"stones_per_period"`
	InitialTime     float64 `json:"initial_time"`
	TimeIncrement   float64 `json:"time_increment"`
	MaxTime         float64 `json:"max_time"`
	PerMove         float64 `json:"per_move"`
	TotalTime       float64 `json:"total_time"`
	PauseOnWeekends bool    `json:"pause_on_weekends"`
}

// Name returns the system name whichever field carried it.
func (r RawTimeControl) Name() string {
	if r.System != "" {
		return r.System
	}
	return r.TimeControl
}

// Variant converts the flat object into its typed variant. "none" and
// unknown systems are errors.
func (r RawTimeControl) Variant() (TimeControl, error) {
	switch r.Name() {
	case SystemByoyomi:
		return Byoyomi{MainTime: r.MainTime, PeriodTime: r.PeriodTime, Periods: r.Periods}, nil
	case SystemCanadian:
		return Canadian{MainTime: r.MainTime, PeriodTime: r.PeriodTime, StonesPerPeriod: r.StonesPerPeriod}, nil
	case SystemFischer:
		return Fischer{InitialTime: r.InitialTime, TimeIncrement: r.TimeIncrement, MaxTime: r.MaxTime}, nil
	case SystemSimple:
		return Simple{PerMove: r.PerMove}, nil
	case SystemAbsolute:
		return Absolute{TotalTime: r.TotalTime}, nil
	}
	return nil, fmt.Errorf("unsupported time control system %q", r.Name())
}

// TimeControlSpec decodes a time control object straight into its variant.
// Control is nil when the system is "none" or unknown; Raw always holds the
// decoded fields.
type TimeControlSpec struct {
	Control TimeControl
	Raw     RawTimeControl
}

func (s *TimeControlSpec) UnmarshalJSON(data []byte) error {
	*s = TimeControlSpec{}
	if err := json.Unmarshal(data, &s.Raw); err != nil {
		return err
	}
	s.Control, _ = s.Raw.Variant()
	return nil
}

func (s TimeControlSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Raw)
}
