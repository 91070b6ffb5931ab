package submission

// State is a step of the submission workflow.
//
//	Start -> Landing -> What -> Where -> Who -> Review -> CaptchaPending -> Submitted
//	                                           Review -> NoSubmitDryRun
//	any non-terminal state -> Failed
type State int

const (
	StateStart State = iota
	StateLanding
	StateWhat
	StateWhere
	StateWho
	StateReview
	StateCaptchaPending
	StateSubmitted
	StateNoSubmitDryRun
	StateFailed
)

var stateNames = [...]string{
	StateStart:          "start",
	StateLanding:        "landing",
	StateWhat:           "what",
	StateWhere:          "where",
	StateWho:            "who",
	StateReview:         "review",
	StateCaptchaPending: "captcha_pending",
	StateSubmitted:      "submitted",
	StateNoSubmitDryRun: "no_submit_dry_run",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the workflow ends in s.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateNoSubmitDryRun || s == StateFailed
}

// canEnter reports whether next is a legal successor of s.
func (s State) canEnter(next State) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StateFailed:
		return true
	case StateNoSubmitDryRun:
		return s == StateReview
	default:
		return next == s+1
	}
}
