package controller

import (
	"net/http"

	"github.com/unclebandit/communitybot-admin/internal/service"
)

const msgPollNotFound = "Poll not found."

type PollController struct {
	Polls *service.PollService
}

func (c *PollController) List(w http.ResponseWriter, r *http.Request) {
	polls, err := c.Polls.List(r.Context())
	if err != nil {
		writeError(w, r, err, msgPollNotFound)
		return
	}
	ok(w, http.StatusOK, polls)
}

func (c *PollController) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreatePollInput
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	p, err := c.Polls.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err, msgPollNotFound)
		return
	}
	ok(w, http.StatusCreated, p)
}

func (c *PollController) Get(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	p, err := c.Polls.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, msgPollNotFound)
		return
	}
	ok(w, http.StatusOK, p)
}

func (c *PollController) Delete(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	if err := c.Polls.Delete(r.Context(), id); err != nil {
		writeError(w, r, err, msgPollNotFound)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Poll deleted."})
}
