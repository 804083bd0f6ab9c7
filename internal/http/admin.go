package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"customer-auth/internal/admin"
	"customer-auth/internal/users"
)

type modelResponse struct {
	Name              string `json:"name"`
	VerboseName       string `json:"verbose_name"`
	VerboseNamePlural string `json:"verbose_name_plural"`
	ChangeListURL     string `json:"changelist_url"`
	AddURL            string `json:"add_url"`
}

type objectResponse struct {
	ID   int64      `json:"id"`
	Form admin.Form `json:"form"`
}

type setPasswordRequest struct {
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
}

func (h *Handler) index(c *gin.Context) {
	regs := h.site.Registrations()
	models := make([]modelResponse, len(regs))
	for i, reg := range regs {
		models[i] = modelResponse{
			Name:              reg.Model.Name,
			VerboseName:       reg.Model.VerboseName,
			VerboseNamePlural: reg.Model.VerboseNamePlural,
			ChangeListURL:     "/admin/" + reg.Model.Name + "/",
			AddURL:            "/admin/" + reg.Model.Name + "/add/",
		}
	}
	c.JSON(http.StatusOK, gin.H{"site": h.site.Name, "models": models})
}

func (h *Handler) registration(c *gin.Context) (*admin.Registration, bool) {
	reg, err := h.site.Lookup(c.Param("model"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return reg, true
}

func (h *Handler) changeList(c *gin.Context) {
	reg, ok := h.registration(c)
	if !ok {
		return
	}
	cl, err := reg.ChangeList(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cl)
}

func (h *Handler) addForm(c *gin.Context) {
	reg, ok := h.registration(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, reg.AddForm())
}

func (h *Handler) addObject(c *gin.Context) {
	reg, ok := h.registration(c)
	if !ok {
		return
	}
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	values, err := reg.CleanAdd(raw)
	if err != nil {
		h.writeError(c, err)
		return
	}
	rec, err := reg.Backend.Create(c.Request.Context(), values)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.auditLog(c, "add", reg, rec.ID)
	c.JSON(http.StatusCreated, objectResponse{ID: rec.ID, Form: reg.ChangeForm(rec)})
}

func (h *Handler) changeForm(c *gin.Context) {
	reg, ok := h.registration(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := reg.Backend.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, objectResponse{ID: rec.ID, Form: reg.ChangeForm(rec)})
}

func (h *Handler) changeObject(c *gin.Context) {
	reg, ok := h.registration(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	values, err := reg.CleanChange(raw)
	if err != nil {
		h.writeError(c, err)
		return
	}
	rec, err := reg.Backend.Update(c.Request.Context(), id, values)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.auditLog(c, "change", reg, rec.ID)
	c.JSON(http.StatusOK, objectResponse{ID: rec.ID, Form: reg.ChangeForm(rec)})
}

func (h *Handler) deleteObject(c *gin.Context) {
	reg, ok := h.registration(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := reg.Backend.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	h.auditLog(c, "delete", reg, id)
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// setPassword is the user admin's password change form.
func (h *Handler) setPassword(c *gin.Context) {
	if c.Param("model") != users.ModelName {
		c.JSON(http.StatusNotFound, gin.H{"error": "password change is only available for users"})
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req setPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.users.SetPassword(c.Request.Context(), id, req.Password1, req.Password2); err != nil {
		h.writeError(c, err)
		return
	}

	if reg, err := h.site.Lookup(users.ModelName); err == nil {
		h.auditLog(c, "password", reg, id)
	}
	c.JSON(http.StatusOK, gin.H{"updated": id})
}

func (h *Handler) auditLog(c *gin.Context, action string, reg *admin.Registration, id int64) {
	entry := h.logger.WithFields(logrus.Fields{
		"action":    action,
		"model":     reg.Model.Name,
		"object_id": id,
	})
	if actor := staffUser(c); actor != nil {
		entry = entry.WithField("actor", actor.Email)
	}
	entry.Info("admin change")
}

