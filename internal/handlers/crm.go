package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/denverlabs/cococrm/internal/apperror"
	"github.com/denverlabs/cococrm/internal/auth"
	"github.com/denverlabs/cococrm/internal/middleware"
	"github.com/denverlabs/cococrm/internal/models"
)

// apiIdentity selects the user a service call acts for. Query parameters
// fill fields the body leaves empty.
type apiIdentity struct {
	Username   string `json:"username"`
	TelegramID flexID `json:"telegram_id"`
	FirstName  string `json:"first_name"`
}

func (a *apiIdentity) fromQuery(r *http.Request) error {
	q := r.URL.Query()
	if a.Username == "" {
		a.Username = q.Get("username")
	}
	if !a.TelegramID.set && q.Get("telegram_id") != "" {
		n, err := strconv.ParseInt(q.Get("telegram_id"), 10, 64)
		if err != nil {
			return &apperror.Error{Kind: apperror.Validation, Public: "telegram_id must be a number", Field: "telegram_id", Err: err}
		}
		a.TelegramID = flexID{set: true, v: n}
	}
	return nil
}

// apiUser resolves the acting user for an API-key request.
func (h *Handler) apiUser(r *http.Request, ident apiIdentity) (*models.User, error) {
	if err := ident.fromQuery(r); err != nil {
		return nil, err
	}
	res, err := h.resolver.Resolve(r.Context(), auth.ServiceCredential{
		APIKey:     middleware.APIKeyFromRequest(r),
		TelegramID: ident.TelegramID.ptr(),
		Username:   ident.Username,
		FirstName:  ident.FirstName,
	})
	h.record(r, auth.MethodService, res, err)
	if err != nil {
		return nil, err
	}
	return res.User, nil
}

// List and create responses key their payload by resource name.
type contactsResponse struct {
	Success  bool             `json:"success"`
	User     string           `json:"user"`
	Contacts []models.Contact `json:"contacts"`
	Count    int              `json:"count"`
}

type contactResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Contact *models.Contact `json:"contact"`
}

type dealsResponse struct {
	Success bool          `json:"success"`
	User    string        `json:"user"`
	Deals   []models.Deal `json:"deals"`
	Count   int           `json:"count"`
}

type dealResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Deal    *models.Deal `json:"deal"`
}

type tasksResponse struct {
	Success bool          `json:"success"`
	User    string        `json:"user"`
	Tasks   []models.Task `json:"tasks"`
	Count   int           `json:"count"`
}

type taskResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Task    *models.Task `json:"task"`
}

// ListContacts returns the selected user's contacts.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	u, err := h.apiUser(r, apiIdentity{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.crm.ListContacts(r.Context(), u.ID, parseLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.Contact{}
	}
	writeJSON(w, http.StatusOK, contactsResponse{Success: true, User: u.Username, Contacts: items, Count: len(items)})
}

type contactRequest struct {
	apiIdentity
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Company  string `json:"company"`
	Position string `json:"position"`
	Tags     string `json:"tags"`
	Notes    string `json:"notes"`
}

// CreateContact adds a contact for the selected user.
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.apiUser(r, req.apiIdentity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c := &models.Contact{
		UserID:   u.ID,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Company:  req.Company,
		Position: req.Position,
		Tags:     req.Tags,
		Notes:    req.Notes,
	}
	if err := h.crm.CreateContact(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contactResponse{Success: true, Message: "Contact created", Contact: c})
}

// ListDeals returns the selected user's deals.
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	u, err := h.apiUser(r, apiIdentity{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.crm.ListDeals(r.Context(), u.ID, parseLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.Deal{}
	}
	writeJSON(w, http.StatusOK, dealsResponse{Success: true, User: u.Username, Deals: items, Count: len(items)})
}

type dealRequest struct {
	apiIdentity
	Title     string  `json:"title"`
	Value     float64 `json:"value"`
	Stage     string  `json:"stage"`
	ContactID *int64  `json:"contact_id"`
}

// CreateDeal adds a deal for the selected user.
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req dealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.apiUser(r, req.apiIdentity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d := &models.Deal{
		UserID:    u.ID,
		ContactID: req.ContactID,
		Title:     req.Title,
		Value:     req.Value,
		Stage:     req.Stage,
	}
	if err := h.crm.CreateDeal(r.Context(), d); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dealResponse{Success: true, Message: "Deal created", Deal: d})
}

// ListTasks returns the selected user's tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	u, err := h.apiUser(r, apiIdentity{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.crm.ListTasks(r.Context(), u.ID, parseLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasksResponse{Success: true, User: u.Username, Tasks: items, Count: len(items)})
}

type taskRequest struct {
	apiIdentity
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DueDate     string `json:"due_date"`
}

// parseDueDate accepts RFC 3339 timestamps or plain dates.
func parseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, &apperror.Error{Kind: apperror.Validation, Public: "due_date must be YYYY-MM-DD or RFC 3339", Field: "due_date"}
}

// CreateTask adds a task for the selected user.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.apiUser(r, req.apiIdentity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t := &models.Task{
		UserID:      u.ID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueDate:     due,
	}
	if err := h.crm.CreateTask(r.Context(), t); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskResponse{Success: true, Message: "Task created", Task: t})
}
