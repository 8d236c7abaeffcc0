package web

import (
	"net/http"
	"strings"

	"github.com/example/stitchflow/internal/auth"
	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/service"
)

// Server is the HTTP API server.
type Server struct {
	addr     string
	handlers *Handlers
	mux      *http.ServeMux
}

// Services bundles the service-layer dependencies of the web server.
type Services struct {
	Workflow *service.WorkflowService
	Matcher  *service.MatcherService
	Progress *service.ProgressService
	Bundles  *service.BundleService
	Roster   *service.RosterService

	// PerRollDefault tracks lots per roll when the request supplies rolls
	// but does not say either way.
	PerRollDefault bool
}

// NewServer creates the API server.
func NewServer(addr string, services Services) *Server {
	s := &Server{
		addr:     addr,
		handlers: NewHandlers(services),
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Trailing slashes enable prefix matching for the :id sub-paths.
	s.mux.HandleFunc("/api/lots", s.middleware(s.routeLots))
	s.mux.HandleFunc("/api/lots/", s.middleware(s.routeLots))
	s.mux.HandleFunc("/api/work-items/", s.middleware(s.routeWorkItems))
	s.mux.HandleFunc("/api/assignments", s.middleware(s.routeAssignments))
	s.mux.HandleFunc("/api/assignments/", s.middleware(s.routeAssignments))
	s.mux.HandleFunc("/api/operators", s.middleware(s.routeOperators))
	s.mux.HandleFunc("/api/operators/", s.middleware(s.routeOperators))
	s.mux.HandleFunc("/api/bundles/", s.middleware(s.routeBundles))
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// routeLots dispatches /api/lots and /api/lots/:id[/...].
func (s *Server) routeLots(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/lots")
	path = strings.Trim(path, "/")

	switch {
	case path == "":
		switch r.Method {
		case http.MethodGet:
			s.handlers.ListLots(w, r)
		case http.MethodPost:
			s.handlers.CreateLot(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case strings.HasSuffix(path, "/progress"):
		if r.Method == http.MethodGet {
			s.handlers.GetProgress(w, r, strings.TrimSuffix(path, "/progress"))
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case strings.HasSuffix(path, "/work-items"):
		if r.Method == http.MethodGet {
			s.handlers.ListWorkItems(w, r, strings.TrimSuffix(path, "/work-items"))
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case strings.HasSuffix(path, "/refresh"):
		if r.Method == http.MethodPost {
			s.handlers.RefreshReadiness(w, r, strings.TrimSuffix(path, "/refresh"))
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		if r.Method == http.MethodGet {
			s.handlers.GetLot(w, r, path)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// routeWorkItems dispatches /api/work-items/ready, /api/work-items/:id and
// the transition sub-paths.
func (s *Server) routeWorkItems(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/work-items"), "/")

	if path == "ready" {
		if r.Method == http.MethodGet {
			s.handlers.ListReadyWorkItems(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	parts := strings.SplitN(path, "/", 2)
	workItemID := parts[0]
	if workItemID == "" {
		http.Error(w, "Work item ID required", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if r.Method == http.MethodGet {
			s.handlers.GetWorkItem(w, r, workItemID)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	action := parts[1]
	if action == "operators" {
		if r.Method == http.MethodGet {
			s.handlers.RankOperators(w, r, workItemID)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handlers.TransitionWorkItem(w, r, workItemID, action)
}

// routeAssignments dispatches /api/assignments, /bulk, and the approval
// sub-paths keyed by work item id.
func (s *Server) routeAssignments(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/assignments"), "/")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case path == "":
		s.handlers.Assign(w, r)
	case path == "bulk":
		s.handlers.BulkConfirm(w, r)
	case strings.HasSuffix(path, "/approve"):
		s.handlers.ApproveSelfAssignment(w, r, strings.TrimSuffix(path, "/approve"))
	case strings.HasSuffix(path, "/reject"):
		s.handlers.RejectSelfAssignment(w, r, strings.TrimSuffix(path, "/reject"))
	case strings.HasSuffix(path, "/release"):
		s.handlers.Unassign(w, r, strings.TrimSuffix(path, "/release"))
	default:
		http.Error(w, "Invalid path", http.StatusBadRequest)
	}
}

// routeOperators dispatches /api/operators and /api/operators/:id[/active].
func (s *Server) routeOperators(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/operators"), "/")

	switch {
	case path == "":
		switch r.Method {
		case http.MethodGet:
			s.handlers.ListOperators(w, r)
		case http.MethodPost:
			s.handlers.RegisterOperator(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case strings.HasSuffix(path, "/active"):
		if r.Method == http.MethodPost {
			s.handlers.SetOperatorActive(w, r, strings.TrimSuffix(path, "/active"))
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		if r.Method == http.MethodGet {
			s.handlers.GetOperator(w, r, path)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// routeBundles dispatches /api/bundles/split and /api/bundles/merge.
func (s *Server) routeBundles(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/bundles"), "/")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch path {
	case "split":
		s.handlers.SplitBundle(w, r)
	case "merge":
		s.handlers.MergeBundle(w, r)
	default:
		http.Error(w, "Invalid path", http.StatusBadRequest)
	}
}

// middleware wraps a handler with CORS headers and actor extraction. The
// identity headers are trusted; authentication happens upstream.
func (s *Server) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-ID, X-Actor-Role")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if actorID := r.Header.Get("X-Actor-ID"); actorID != "" {
			role := domain.Role(r.Header.Get("X-Actor-Role"))
			if role == "" {
				role = domain.RoleOperator
			}
			ctx := auth.WithActor(r.Context(), domain.Actor{ID: actorID, Role: role})
			r = r.WithContext(ctx)
		}

		next(w, r)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}
