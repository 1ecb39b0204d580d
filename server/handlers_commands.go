package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/role"
)

const maxBodyBytes = 64 << 10

type createCommandRequest struct {
	Name           string     `json:"name"`
	Response       string     `json:"response"`
	Enabled        *bool      `json:"enabled"`
	MinRole        *role.Role `json:"min_role"`
	GlobalCooldown *int       `json:"global_cooldown"`
	UserCooldown   *int       `json:"user_cooldown"`
	Description    string     `json:"description"`
}

func (req createCommandRequest) definition(createdBy string) model.Command {
	def := model.Command{
		Name:           req.Name,
		Response:       req.Response,
		Enabled:        true,
		MinRole:        role.Viewer,
		GlobalCooldown: command.DefaultGlobalCooldown,
		UserCooldown:   command.DefaultUserCooldown,
		Description:    req.Description,
		CreatedBy:      createdBy,
	}
	if req.Enabled != nil {
		def.Enabled = *req.Enabled
	}
	if req.MinRole != nil {
		def.MinRole = *req.MinRole
	}
	if req.GlobalCooldown != nil {
		def.GlobalCooldown = *req.GlobalCooldown
	}
	if req.UserCooldown != nil {
		def.UserCooldown = *req.UserCooldown
	}
	return def
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.Invalidf("invalid request body: %v", err)
	}
	return nil
}

// HandleCommandsList lists commands; ?enabled_only=true hides disabled ones.
func (h *Handlers) HandleCommandsList(w http.ResponseWriter, r *http.Request) {
	cmds, err := h.commands.List(r.Context(), parseBoolQuery(r, "enabled_only", false))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}

// HandleCommandCreate creates a custom command.
func (h *Handlers) HandleCommandCreate(w http.ResponseWriter, r *http.Request) {
	var req createCommandRequest
	if err := decodeBody(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	createdBy := principal(r.Context())
	if createdBy == "" {
		createdBy = "api"
	}
	cmd, err := h.commands.Create(r.Context(), req.definition(createdBy))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cmd)
}

func (h *Handlers) HandleCommandGet(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.commands.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// HandleCommandUpdate applies a partial update to a custom command.
func (h *Handlers) HandleCommandUpdate(w http.ResponseWriter, r *http.Request) {
	var patch model.CommandPatch
	if err := decodeBody(w, r, &patch); err != nil {
		fail(w, r, err)
		return
	}
	cmd, err := h.commands.Update(r.Context(), r.PathValue("name"), patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// HandleCommandDelete removes a custom command.
func (h *Handlers) HandleCommandDelete(w http.ResponseWriter, r *http.Request) {
	name := model.NormalizeName(r.PathValue("name"))
	if err := h.commands.Remove(r.Context(), name); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("command %s deleted", name)})
}
