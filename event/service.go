package event

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/zllovesuki/stripemirror/auth"
	resp "github.com/zllovesuki/stripemirror/response"
	"github.com/zllovesuki/stripemirror/spec"
	"github.com/zllovesuki/stripemirror/spec/broker"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	// Auth guards the operator routes; the webhook route is public
	Auth         *auth.Auth
	EventManager *Manager
	Dispatcher   *Dispatcher
	// Producer is optional. Without it new events are handled inline.
	Producer broker.Producer
	Logger   *zap.Logger
}

// Service receives webhooks and exposes recorded events to operators
type Service struct {
	ServiceOptions
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.EventManager == nil {
		return nil, fmt.Errorf("nil EventManager is invalid")
	}
	if option.Dispatcher == nil {
		return nil, fmt.Errorf("nil Dispatcher is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read request body"))
		return
	}

	e, created, err := s.EventManager.Record(ctx, body)
	if errors.Is(err, ErrInvalidEnvelope) {
		resp.WriteError(w, r, resp.ErrInvalidEnvelope().AddMessages(err.Error()))
		return
	}
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot record event"))
		return
	}
	logger := s.Logger.With(
		zap.String("EventID", e.ID),
		zap.String("EventType", e.Type),
	)
	if !created {
		logger.Info("Received duplicate event")
		resp.WriteResponse(w, r, e)
		return
	}

	if s.Producer != nil {
		err := s.Producer.SendTask(&spec.Task{
			Type:    spec.DispatchTask,
			EventID: e.ID,
		})
		if err == nil {
			resp.WriteResponse(w, r, e)
			return
		}
		logger.Error("Unable to enqueue dispatch task, handling inline",
			zap.Error(err),
		)
	}

	// Stripe only needs to know the event was stored; a failure here is
	// picked up again by the replay task
	if err := s.Dispatcher.Handle(ctx, e); err != nil {
		logger.Error("Unable to handle event",
			zap.Error(err),
		)
	}
	resp.WriteResponse(w, r, e)
}

func (s *Service) getEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.EventManager.Get(r.Context(), id)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about the event"))
		return
	}
	if e == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find event with specific ID"))
		return
	}
	resp.WriteResponse(w, r, e)
}

func (s *Service) replayEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	e, err := s.EventManager.Get(ctx, id)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about the event"))
		return
	}
	if e == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find event with specific ID"))
		return
	}
	if err := s.Dispatcher.Handle(ctx, e); err != nil {
		s.Logger.Error("Unable to replay event",
			zap.String("EventID", id),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot replay event"))
		return
	}
	resp.WriteResponse(w, r, e)
}

func (s *Service) eventExceptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results, err := s.EventManager.Exceptions.ListForEvent(r.Context(), id)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot list exceptions of the event"))
		return
	}
	resp.WriteResponse(w, r, results)
}

func (s *Service) listExceptions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("limit must be a positive integer"))
			return
		}
		limit = n
	}
	results, err := s.EventManager.Exceptions.List(r.Context(), limit)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot list exceptions"))
		return
	}
	resp.WriteResponse(w, r, results)
}

// Router will return the public webhook route
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.receiveWebhook)

	return r
}

// OperatorRouter will return the routes under events API
func (s *Service) OperatorRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Use(s.Auth.ClaimCheck())

	r.Get("/exceptions", s.listExceptions)
	r.Get("/{id}", s.getEvent)
	r.Get("/{id}/exceptions", s.eventExceptions)
	r.Post("/{id}/replay", s.replayEvent)

	return r
}
