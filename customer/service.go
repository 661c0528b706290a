package customer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/zllovesuki/stripemirror/auth"
	"github.com/zllovesuki/stripemirror/external"
	resp "github.com/zllovesuki/stripemirror/response"
	"github.com/zllovesuki/stripemirror/subscription"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// Options contains the configuration for Service router
type Options struct {
	Auth            *auth.Auth
	CustomerManager *Manager
	Logger          *zap.Logger
}

// Service is the operator API for customers
type Service struct {
	Options
}

// CancelRequest is the model of an operator request to cancel a subscription
type CancelRequest struct {
	PlanID      string `json:"planId"`
	AtPeriodEnd bool   `json:"atPeriodEnd"`
}

// NewService will create an instance of the customer API router
func NewService(option Options) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.CustomerManager == nil {
		return nil, fmt.Errorf("nil CustomerManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		Options: option,
	}, nil
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, ErrNotMirrored):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Customer is not mirrored"))
	case subscription.IsAmbiguous(err), errors.Is(err, subscription.ErrPlanRequired):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages(err.Error()))
	case subscription.IsCancellationFailure(err) && !external.IsProviderError(err):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages(err.Error()))
	case external.IsProviderError(err):
		resp.WriteError(w, r, resp.ErrProvider(err.Error()))
	default:
		logger.Error("Unable to complete customer request",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
	}
}

func (s *Service) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateOptions
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}
	logger := s.Logger.With(zap.String("SubscriberID", req.SubscriberID))

	cust, err := s.CustomerManager.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, logger, err)
		return
	}
	resp.WriteResponse(w, r, cust)
}

func (s *Service) getCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cust, err := s.CustomerManager.GetByID(r.Context(), id)
	if err != nil {
		s.Logger.Error("Unable to get customer",
			zap.String("CustomerID", id),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about the customer"))
		return
	}
	if cust == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find customer with specific ID"))
		return
	}
	resp.WriteResponse(w, r, cust)
}

func (s *Service) syncCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	logger := s.Logger.With(zap.String("CustomerID", id))

	cust, err := s.CustomerManager.Sync(ctx, id)
	if err == nil {
		err = s.CustomerManager.SyncInvoices(ctx, id)
	}
	if err == nil {
		err = s.CustomerManager.SyncCharges(ctx, id)
	}
	if err != nil {
		s.writeError(w, r, logger, err)
		return
	}
	if cust == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find customer with specific ID"))
		return
	}
	resp.WriteResponse(w, r, cust)
}

func (s *Service) purgeCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	logger := s.Logger.With(zap.String("CustomerID", id))

	if err := s.CustomerManager.Purge(ctx, id); err != nil {
		s.writeError(w, r, logger, err)
		return
	}
	logger.Info("Customer purged by operator")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) retryInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	logger := s.Logger.With(zap.String("CustomerID", id))

	if err := s.CustomerManager.RetryUnpaidInvoices(ctx, id); err != nil {
		s.writeError(w, r, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	logger := s.Logger.With(zap.String("CustomerID", id))

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	sub, err := s.CustomerManager.CancelSubscription(ctx, id, req.PlanID, req.AtPeriodEnd)
	if err != nil {
		s.writeError(w, r, logger, err)
		return
	}
	resp.WriteResponse(w, r, sub)
}

// Router will return the routes under customer API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Use(s.Auth.ClaimCheck())

	r.Post("/", s.createCustomer)
	r.Get("/{id}", s.getCustomer)
	r.Post("/{id}/sync", s.syncCustomer)
	r.Post("/{id}/purge", s.purgeCustomer)
	r.Post("/{id}/retry", s.retryInvoices)
	r.Post("/{id}/subscription/cancel", s.cancelSubscription)

	return r
}
