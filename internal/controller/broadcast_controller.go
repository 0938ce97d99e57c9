package controller

import (
	"net/http"

	"github.com/unclebandit/communitybot-admin/internal/middleware"
	"github.com/unclebandit/communitybot-admin/internal/service"
)

const (
	msgInvalidID         = "Invalid ID."
	msgInvalidBody       = "Invalid request body."
	msgBroadcastNotFound = "Broadcast not found."
	msgNothingToCancel   = "Broadcast not found, already sent, or already cancelled."
)

type BroadcastController struct {
	Broadcasts *service.BroadcastService
	View       *service.ReconciliationView
	Retry      *service.RetryCoordinator
}

func adminID(r *http.Request) *int64 {
	id, ok := middleware.AdminFromContext(r.Context())
	if !ok {
		return nil
	}
	return &id
}

func (c *BroadcastController) List(w http.ResponseWriter, r *http.Request) {
	list, err := c.Broadcasts.List(r.Context())
	if err != nil {
		writeError(w, r, err, msgBroadcastNotFound)
		return
	}
	ok(w, http.StatusOK, list)
}

func (c *BroadcastController) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateBroadcastInput
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if by := adminID(r); by != nil {
		in.CreatedBy = *by
	}

	b, err := c.Broadcasts.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err, msgBroadcastNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: b, Message: "Broadcast scheduled."})
}

// Logs returns the reconciled delivery view: every targeted or logged user.
func (c *BroadcastController) Logs(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	rows, err := c.View.Reconcile(r.Context(), id)
	if err != nil {
		writeError(w, r, err, msgBroadcastNotFound)
		return
	}
	ok(w, http.StatusOK, rows)
}

func (c *BroadcastController) Cancel(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	cancelled, err := c.Broadcasts.Cancel(r.Context(), id, adminID(r))
	if err != nil {
		writeError(w, r, err, msgBroadcastNotFound)
		return
	}
	if !cancelled {
		fail(w, http.StatusNotFound, msgNothingToCancel)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Broadcast cancelled."})
}

func (c *BroadcastController) TargetUsers(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	users, err := c.Broadcasts.TargetUsers(r.Context(), id)
	if err != nil {
		writeError(w, r, err, msgBroadcastNotFound)
		return
	}
	ok(w, http.StatusOK, users)
}

func (c *BroadcastController) RetryAll(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	cleared, err := c.Retry.RetryAllFailed(r.Context(), id, adminID(r))
	if err != nil {
		writeError(w, r, err, msgBroadcastNotFound)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    map[string]int64{"cleared": cleared},
		Message: "Failed deliveries cleared, broadcast requeued.",
	})
}

// RetryOne always answers 200 once the attempt ran; success mirrors the
// delivery outcome.
func (c *BroadcastController) RetryOne(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	userID, valid := pathID(r, "userId")
	if !valid {
		fail(w, http.StatusBadRequest, msgInvalidID)
		return
	}

	res, err := c.Retry.RetryOne(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err, msgBroadcastNotFound)
		return
	}
	msg := "Message delivered."
	if !res.Success {
		msg = "Delivery failed: " + res.Error
	}
	writeJSON(w, http.StatusOK, envelope{Success: res.Success, Data: res, Message: msg})
}
