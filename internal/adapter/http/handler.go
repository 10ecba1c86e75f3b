package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/stateroom/stateroom/internal/app"
	"github.com/stateroom/stateroom/internal/domain"
)

const timeFormat = time.RFC3339Nano

// EntityResponse is the API representation of an entity's current state.
type EntityResponse struct {
	Machine    string `json:"machine" doc:"Machine name"`
	EntityID   string `json:"entity_id" doc:"Opaque entity identifier"`
	State      string `json:"state" doc:"Current state"`
	ChangeTime string `json:"changetime" doc:"Last state change (ISO 8601)"`
}

func toEntityResponse(e domain.Entity) EntityResponse {
	return EntityResponse{
		Machine:    e.Machine,
		EntityID:   e.EntityID,
		State:      e.State,
		ChangeTime: e.ChangeTime.Format(timeFormat),
	}
}

// HistoryResponse is the API representation of one history record.
type HistoryResponse struct {
	ID                 int64  `json:"id" doc:"Monotonic record id"`
	StateFrom          string `json:"state_from" doc:"Source state"`
	StateTo            string `json:"state_to" doc:"Target state"`
	ChangeTime         string `json:"changetime" doc:"Record timestamp (ISO 8601)"`
	ChangeTimePrevious string `json:"changetime_previous,omitempty" doc:"Prior entity changetime; absent on the creation record"`
	Message            string `json:"message,omitempty" doc:"Failure detail; empty for successful transitions"`
}

func toHistoryResponse(r domain.HistoryRecord) HistoryResponse {
	resp := HistoryResponse{
		ID:         r.ID,
		StateFrom:  r.StateFrom,
		StateTo:    r.StateTo,
		ChangeTime: r.ChangeTime.Format(timeFormat),
		Message:    r.Message,
	}
	if r.ChangeTimePrevious != nil {
		resp.ChangeTimePrevious = r.ChangeTimePrevious.Format(timeFormat)
	}
	return resp
}

// StateResponse describes one configured state.
type StateResponse struct {
	State string `json:"state" doc:"State name"`
	Type  string `json:"state_type" doc:"initial, normal, or final"`
}

// TransitionResponse describes one configured transition.
type TransitionResponse struct {
	StateFrom   string `json:"state_from"`
	StateTo     string `json:"state_to"`
	Rule        string `json:"rule" doc:"Rule capability reference"`
	Command     string `json:"command" doc:"Command capability reference"`
	Priority    int    `json:"priority" doc:"Lower values are evaluated first"`
	Description string `json:"description,omitempty"`
}

// MachineResponse is the API representation of a loaded machine definition.
type MachineResponse struct {
	Machine     string               `json:"machine" doc:"Machine name"`
	Description string               `json:"description,omitempty"`
	Factory     string               `json:"factory,omitempty" doc:"Factory capability reference"`
	States      []StateResponse      `json:"states"`
	Transitions []TransitionResponse `json:"transitions"`
}

func toMachineResponse(cfg domain.MachineConfig) MachineResponse {
	resp := MachineResponse{
		Machine:     cfg.Machine.Name,
		Description: cfg.Machine.Description,
		Factory:     cfg.Machine.Factory,
		States:      make([]StateResponse, len(cfg.States)),
		Transitions: make([]TransitionResponse, len(cfg.Transitions)),
	}
	for i, s := range cfg.States {
		resp.States[i] = StateResponse{State: s.Name, Type: string(s.Type)}
	}
	for i, t := range cfg.Transitions {
		resp.Transitions[i] = TransitionResponse{
			StateFrom:   t.StateFrom,
			StateTo:     t.StateTo,
			Rule:        t.RuleRef,
			Command:     t.CommandRef,
			Priority:    t.Priority,
			Description: t.Description,
		}
	}
	return resp
}

// --- Machine configuration ---

type CreateMachineInput struct {
	Body struct {
		Machine     string `json:"machine" minLength:"1" maxLength:"100" pattern:"^[a-z0-9]+(?:-[a-z0-9]+)*$" doc:"Machine name (lowercase, hyphens)"`
		Description string `json:"description,omitempty" maxLength:"255"`
		Factory     string `json:"factory,omitempty" doc:"Factory capability reference"`
	}
}

type CreateMachineOutput struct {
	Body struct {
		Machine string `json:"machine"`
	}
}

type CreateStateInput struct {
	Machine string `path:"machine" doc:"Machine name"`
	Body    struct {
		State string `json:"state" minLength:"1" maxLength:"100" pattern:"^[a-z0-9]+(?:-[a-z0-9]+)*$" doc:"State name (lowercase, hyphens)"`
		Type  string `json:"state_type" enum:"initial,normal,final" doc:"State type"`
	}
}

type CreateStateOutput struct {
	Body StateResponse
}

type CreateTransitionInput struct {
	Machine string `path:"machine" doc:"Machine name"`
	Body    struct {
		StateFrom   string `json:"state_from" minLength:"1" doc:"Source state"`
		StateTo     string `json:"state_to" minLength:"1" doc:"Target state"`
		Rule        string `json:"rule" minLength:"1" doc:"Rule capability reference"`
		Command     string `json:"command" minLength:"1" doc:"Command capability reference"`
		Priority    int    `json:"priority,omitempty" doc:"Lower values are evaluated first"`
		Description string `json:"description,omitempty" maxLength:"255"`
	}
}

type CreateTransitionOutput struct {
	Body TransitionResponse
}

type GetMachineInput struct {
	Machine string `path:"machine" doc:"Machine name"`
}

type GetMachineOutput struct {
	Body MachineResponse
}

// --- Entities ---

type AddEntityInput struct {
	Machine string `path:"machine" doc:"Machine name"`
	Body    struct {
		EntityID string `json:"entity_id" minLength:"1" maxLength:"255" doc:"Opaque entity identifier"`
	}
}

type AddEntityOutput struct {
	Body EntityResponse
}

type GetEntityInput struct {
	Machine  string `path:"machine" doc:"Machine name"`
	EntityID string `path:"entityID" doc:"Entity identifier"`
}

type GetEntityOutput struct {
	Body EntityResponse
}

type FindEntitiesInput struct {
	Machine string `path:"machine" doc:"Machine name"`
	State   string `query:"state" required:"true" doc:"State to filter by"`
}

type FindEntitiesOutput struct {
	Body struct {
		EntityIDs []string `json:"entity_ids"`
	}
}

type TransitionInput struct {
	Machine  string `path:"machine" doc:"Machine name"`
	EntityID string `path:"entityID" doc:"Entity identifier"`
	Body     struct {
		TargetState string `json:"target_state,omitempty" doc:"Restrict candidates to transitions landing on this state"`
	}
}

type TransitionOutput struct {
	Body EntityResponse
}

type GetHistoryInput struct {
	Machine  string `path:"machine" doc:"Machine name"`
	EntityID string `path:"entityID" doc:"Entity identifier"`
}

type GetHistoryOutput struct {
	Body []HistoryResponse
}

// Register adds all engine API routes to the Huma API.
func Register(api huma.API, engine *app.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-machine",
		Method:      http.MethodPost,
		Path:        "/api/v1/machines",
		Summary:     "Create a machine",
		Tags:        []string{"Machines"},
	}, func(ctx context.Context, input *CreateMachineInput) (*CreateMachineOutput, error) {
		err := engine.CreateMachine(ctx, domain.Machine{
			Name:        input.Body.Machine,
			Description: input.Body.Description,
			Factory:     input.Body.Factory,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &CreateMachineOutput{}
		out.Body.Machine = input.Body.Machine
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-machine",
		Method:      http.MethodGet,
		Path:        "/api/v1/machines/{machine}",
		Summary:     "Load a machine definition",
		Tags:        []string{"Machines"},
	}, func(ctx context.Context, input *GetMachineInput) (*GetMachineOutput, error) {
		def, err := engine.LoadMachine(ctx, input.Machine)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetMachineOutput{Body: toMachineResponse(def.Config)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-state",
		Method:      http.MethodPost,
		Path:        "/api/v1/machines/{machine}/states",
		Summary:     "Add a state to a machine",
		Tags:        []string{"Machines"},
	}, func(ctx context.Context, input *CreateStateInput) (*CreateStateOutput, error) {
		err := engine.CreateState(ctx, domain.State{
			Machine: input.Machine,
			Name:    input.Body.State,
			Type:    domain.StateType(input.Body.Type),
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateStateOutput{Body: StateResponse{State: input.Body.State, Type: input.Body.Type}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-transition",
		Method:      http.MethodPost,
		Path:        "/api/v1/machines/{machine}/transitions",
		Summary:     "Add a transition to a machine",
		Tags:        []string{"Machines"},
	}, func(ctx context.Context, input *CreateTransitionInput) (*CreateTransitionOutput, error) {
		err := engine.CreateTransition(ctx, domain.Transition{
			Machine:     input.Machine,
			StateFrom:   input.Body.StateFrom,
			StateTo:     input.Body.StateTo,
			RuleRef:     input.Body.Rule,
			CommandRef:  input.Body.Command,
			Priority:    input.Body.Priority,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateTransitionOutput{Body: TransitionResponse{
			StateFrom:   input.Body.StateFrom,
			StateTo:     input.Body.StateTo,
			Rule:        input.Body.Rule,
			Command:     input.Body.Command,
			Priority:    input.Body.Priority,
			Description: input.Body.Description,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-entity",
		Method:      http.MethodPost,
		Path:        "/api/v1/machines/{machine}/entities",
		Summary:     "Register an entity with a machine",
		Tags:        []string{"Entities"},
	}, func(ctx context.Context, input *AddEntityInput) (*AddEntityOutput, error) {
		ent, err := engine.AddEntity(ctx, input.Machine, input.Body.EntityID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &AddEntityOutput{Body: toEntityResponse(ent)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-entity",
		Method:      http.MethodGet,
		Path:        "/api/v1/machines/{machine}/entities/{entityID}",
		Summary:     "Get an entity's current state",
		Tags:        []string{"Entities"},
	}, func(ctx context.Context, input *GetEntityInput) (*GetEntityOutput, error) {
		ent, err := engine.GetState(ctx, input.Machine, input.EntityID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetEntityOutput{Body: toEntityResponse(ent)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "find-entities",
		Method:      http.MethodGet,
		Path:        "/api/v1/machines/{machine}/entities",
		Summary:     "List entities currently in a state",
		Tags:        []string{"Entities"},
	}, func(ctx context.Context, input *FindEntitiesInput) (*FindEntitiesOutput, error) {
		ids, err := engine.FindEntitiesByState(ctx, input.Machine, input.State)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &FindEntitiesOutput{}
		out.Body.EntityIDs = ids
		if out.Body.EntityIDs == nil {
			out.Body.EntityIDs = []string{}
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-entity",
		Method:      http.MethodPost,
		Path:        "/api/v1/machines/{machine}/entities/{entityID}/transitions",
		Summary:     "Attempt a transition",
		Tags:        []string{"Entities"},
	}, func(ctx context.Context, input *TransitionInput) (*TransitionOutput, error) {
		ent, err := engine.Transition(ctx, input.Machine, input.EntityID, input.Body.TargetState)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TransitionOutput{Body: toEntityResponse(ent)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/machines/{machine}/entities/{entityID}/history",
		Summary:     "Get an entity's transition history",
		Tags:        []string{"Entities"},
	}, func(ctx context.Context, input *GetHistoryInput) (*GetHistoryOutput, error) {
		records, err := engine.GetHistory(ctx, input.Machine, input.EntityID)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]HistoryResponse, len(records))
		for i, r := range records {
			resp[i] = toHistoryResponse(r)
		}
		return &GetHistoryOutput{Body: resp}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrMachineNotFound) {
		return huma.Error404NotFound("machine not found")
	}
	if errors.Is(err, domain.ErrEntityNotFound) {
		return huma.Error404NotFound("entity not found")
	}
	if errors.Is(err, domain.ErrStaleState) {
		return huma.Error409Conflict(err.Error())
	}

	var existsErr *domain.AlreadyExistsError
	if errors.As(err, &existsErr) {
		return huma.Error409Conflict(existsErr.Error())
	}

	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return huma.Error422UnprocessableEntity(cfgErr.Error())
	}

	var noTransition *domain.NoApplicableTransitionError
	if errors.As(err, &noTransition) {
		return huma.Error422UnprocessableEntity(noTransition.Error())
	}

	var failed *domain.TransitionFailedError
	if errors.As(err, &failed) {
		return huma.Error409Conflict(failed.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
