package northbound

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/veesix-networks/osvnsh/pkg/controlplane"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
)

const maxBody = 1 << 20

func (c *Component) handleListDevices(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, c.svc.ListDevices())
}

func (c *Component) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req controlplane.DeviceRequest
	if !c.decode(w, r, &req) {
		return
	}

	info, err := c.svc.CreateDevice(r.Context(), req)
	if err != nil {
		c.writeServiceError(w, "create device", err)
		return
	}
	c.writeJSON(w, http.StatusCreated, info)
}

func (c *Component) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	info, err := c.svc.GetDevice(r.PathValue("name"))
	if err != nil {
		c.writeServiceError(w, "get device", err)
		return
	}
	c.writeJSON(w, http.StatusOK, info)
}

func (c *Component) handleDestroyDevice(w http.ResponseWriter, r *http.Request) {
	if err := c.svc.DestroyDevice(r.Context(), r.PathValue("name")); err != nil {
		c.writeServiceError(w, "destroy device", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Component) handleBindDevice(w http.ResponseWriter, r *http.Request) {
	var req BindingRequest
	if !c.decode(w, r, &req) {
		return
	}

	key, err := nsh.ParsePathKey(req.Key)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := c.svc.BindDevice(r.Context(), r.PathValue("name"), key)
	if err != nil {
		c.writeServiceError(w, "bind device", err)
		return
	}
	c.writeJSON(w, http.StatusOK, info)
}

func (c *Component) handleUnbindDevice(w http.ResponseWriter, r *http.Request) {
	info, err := c.svc.UnbindDevice(r.Context(), r.PathValue("name"))
	if err != nil {
		c.writeServiceError(w, "unbind device", err)
		return
	}
	c.writeJSON(w, http.StatusOK, info)
}

func (c *Component) handleListPaths(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, c.svc.ListPaths())
}

func (c *Component) handleAddPath(w http.ResponseWriter, r *http.Request) {
	var req controlplane.PathRequest
	if !c.decode(w, r, &req) {
		return
	}

	info, err := c.svc.AddPath(r.Context(), req)
	if err != nil {
		c.writeServiceError(w, "add path", err)
		return
	}
	c.writeJSON(w, http.StatusCreated, info)
}

func (c *Component) handleGetPath(w http.ResponseWriter, r *http.Request) {
	key, ok := c.pathKey(w, r)
	if !ok {
		return
	}

	info, err := c.svc.GetPath(key)
	if err != nil {
		c.writeServiceError(w, "get path", err)
		return
	}
	c.writeJSON(w, http.StatusOK, info)
}

func (c *Component) handleDeletePath(w http.ResponseWriter, r *http.Request) {
	key, ok := c.pathKey(w, r)
	if !ok {
		return
	}

	if err := c.svc.DeletePath(r.Context(), key); err != nil {
		c.writeServiceError(w, "delete path", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Component) handleStats(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, c.svc.Stats())
}

func (c *Component) handleStatus(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, c.GetStatus())
}

func (c *Component) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, c.GenerateOpenAPISpec())
}

// pathKey reads the {spi} and {si} route segments.
func (c *Component) pathKey(w http.ResponseWriter, r *http.Request) (nsh.PathKey, bool) {
	spi, err := strconv.ParseUint(r.PathValue("spi"), 0, 32)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid spi %q", r.PathValue("spi")))
		return 0, false
	}
	si, err := strconv.ParseUint(r.PathValue("si"), 0, 8)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid si %q", r.PathValue("si")))
		return 0, false
	}
	key, err := nsh.NewPathKey(uint32(spi), uint8(si))
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return key, true
}

func (c *Component) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		c.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (c *Component) writeServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.logger.Error("API request failed", "op", op, "error", err)
	} else {
		c.logger.Debug("API request rejected", "op", op, "status", status, "error", err)
	}
	c.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case controlplane.IsInvalid(err):
		return http.StatusBadRequest
	case controlplane.IsConflict(err):
		return http.StatusConflict
	case controlplane.IsNotFound(err):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (c *Component) writeError(w http.ResponseWriter, status int, message string) {
	c.writeJSON(w, status, ErrorResponse{Error: message})
}

func (c *Component) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		c.logger.Debug("Failed to write response", "error", err)
	}
}
