package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/kbotics/kbot/onboard/hardware"
)

//---
// Generic payloads
//---

type CommandPayload struct {
	Position float64 `json:"position"`
	Velocity float64 `json:"velocity"`
	Torque   float64 `json:"torque"`
}

func (p *CommandPayload) Bind(r *http.Request) error {
	return nil
}

type StatusPayload struct {
	Status string `json:"status"`
}

//---
// Error responses
//---

type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

func ErrConflict(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusConflict,
		StatusText:     "Conflict.",
		ErrorText:      err.Error(),
	}
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found."}

//---
// Helper functions
//---

func actuatorID(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

//---
// Views
//---

// GetState returns the most recent tick snapshot.
func GetState(ctl *controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, ctl.bot.Coordinator.LastSnapshot())
	}
}

// GetHealth returns per-actuator health classification.
func GetHealth(ctl *controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, ctl.bot.Health.Snapshot())
	}
}

func PostRearm(ctl *controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctl.Rearm()
		render.JSON(w, r, StatusPayload{"rearmed"})
	}
}

// PostCommand stages a setpoint for the next tick.
func PostCommand(ctl *controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := actuatorID(r)
		if err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}
		if _, ok := ctl.bot.Coordinator.Actuator(id); !ok {
			render.Render(w, r, ErrNotFound)
			return
		}

		data := &CommandPayload{}
		if err := render.Bind(r, data); err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}

		ctl.QueueCommand(id, hardware.Command{
			Position: data.Position,
			Velocity: data.Velocity,
			Torque:   data.Torque,
		})
		render.JSON(w, r, StatusPayload{"queued"})
	}
}

func PostEnable(ctl *controller) http.HandlerFunc {
	return actuatorOp(ctl, "enabled", (*controller).Enable)
}

func PostDisable(ctl *controller) http.HandlerFunc {
	return actuatorOp(ctl, "disabled", (*controller).Disable)
}

func PostClearFault(ctl *controller) http.HandlerFunc {
	return actuatorOp(ctl, "cleared", (*controller).ClearFault)
}

func PostZero(ctl *controller) http.HandlerFunc {
	return actuatorOp(ctl, "zeroed", (*controller).Zero)
}

func actuatorOp(ctl *controller, status string, op func(*controller, int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := actuatorID(r)
		if err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}
		if _, ok := ctl.bot.Coordinator.Actuator(id); !ok {
			render.Render(w, r, ErrNotFound)
			return
		}

		if err := op(ctl, id); err != nil {
			render.Render(w, r, ErrConflict(err))
			return
		}
		render.JSON(w, r, StatusPayload{status})
	}
}
