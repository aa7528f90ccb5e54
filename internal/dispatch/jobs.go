package dispatch

import (
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Kind discriminates the job union. Exactly one payload pointer is set per
// kind.
type Kind string

const (
	KindCreateScreens   Kind = "create-screens"
	KindRegenerateFrame Kind = "regenerate-frame"
	KindNameGenerate    Kind = "name-generate"
)

var ErrInvalidJob = errors.New("invalid_job")

type CreateScreensPayload struct {
	Prompt      string `json:"prompt"`
	ScreenCount int    `json:"screen_count"`
}

type RegenerateFramePayload struct {
	FrameID snowflake.ID `json:"frame_id"`
	Prompt  string       `json:"prompt"`
}

type NameGeneratePayload struct {
	Prompt string `json:"prompt"`
}

// Job is the unit of asynchronous work. It is serialized verbatim onto the
// stream, so additions must stay backward compatible with in-flight entries.
type Job struct {
	ID        snowflake.ID `json:"id"`
	Kind      Kind         `json:"kind"`
	AccountID snowflake.ID `json:"account_id"`
	ProjectID snowflake.ID `json:"project_id"`

	CreateScreens   *CreateScreensPayload   `json:"create_screens,omitempty"`
	RegenerateFrame *RegenerateFramePayload `json:"regenerate_frame,omitempty"`
	NameGenerate    *NameGeneratePayload    `json:"name_generate,omitempty"`

	// Attempt is set by the queue on delivery, starting at 1.
	Attempt int `json:"-"`
}

func (j Job) Validate() error {
	if j.AccountID == 0 || j.ProjectID == 0 {
		return ErrInvalidJob
	}
	switch j.Kind {
	case KindCreateScreens:
		if j.CreateScreens == nil || j.CreateScreens.ScreenCount <= 0 {
			return ErrInvalidJob
		}
	case KindRegenerateFrame:
		if j.RegenerateFrame == nil || j.RegenerateFrame.FrameID == 0 {
			return ErrInvalidJob
		}
	case KindNameGenerate:
		if j.NameGenerate == nil {
			return ErrInvalidJob
		}
	default:
		return ErrInvalidJob
	}
	return nil
}

// PermanentError wraps a handler failure that must not be retried, such as a
// validation failure or a job whose target no longer exists.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
