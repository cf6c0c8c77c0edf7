package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/core/ecs"
	"github.com/shijimago/shijima/internal/core/rendezvous"
	"github.com/shijimago/shijima/internal/data"
	"github.com/shijimago/shijima/internal/mascot"
	"github.com/shijimago/shijima/internal/scripting"
	"github.com/shijimago/shijima/internal/world"
)

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Mascot is the wire form of one live mascot.
type Mascot struct {
	ID             int64   `json:"id"`
	DataID         int64   `json:"data_id"`
	Name           string  `json:"name"`
	Anchor         Vec2    `json:"anchor"`
	ActiveBehavior *string `json:"active_behavior"`
}

// LoadedMascot is the wire form of one registered template.
type LoadedMascot struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Patch holds the optional fields a request may change on a mascot.
type Patch struct {
	Anchor   *Vec2   `json:"anchor,omitempty"`
	Behavior *string `json:"behavior,omitempty"`
}

type SpawnRequest struct {
	Name   *string `json:"name,omitempty"`
	DataID *int64  `json:"data_id,omitempty"`
	Patch
}

type deleteRequest struct {
	Selector string `json:"selector"`
}

func viewOf(e *world.Entity) Mascot {
	a := e.State().Anchor
	v := Mascot{
		ID:     int64(e.ID),
		DataID: e.Template.ID,
		Name:   e.Name(),
		Anchor: Vec2{X: a.X, Y: a.Y},
	}
	if b := e.Sim.ActiveBehavior(); b != "" {
		v.ActiveBehavior = &b
	}
	return v
}

func subjectOf(e *world.Entity) scripting.Subject {
	st := e.State()
	return scripting.Subject{
		ID:           int64(e.ID),
		DataID:       e.Template.ID,
		Name:         e.Name(),
		X:            st.Anchor.X,
		Y:            st.Anchor.Y,
		LookingRight: st.LookingRight,
		Dragging:     st.Dragging,
		Dead:         st.Dead,
		Behavior:     e.Sim.ActiveBehavior(),
	}
}

// apply writes the patch into e. Unknown behavior names are ignored.
func (p Patch) apply(e *world.Entity) {
	if p.Anchor != nil {
		e.State().Anchor = mascot.Vec2{X: p.Anchor.X, Y: p.Anchor.Y}
	}
	if p.Behavior != nil {
		e.Sim.SetBehavior(*p.Behavior)
	}
}

func errorBody(msg string) map[string]any { return map[string]any{"error": msg} }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func badRequest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusBadRequest, errorBody("400 Bad Request"))
}

func pathID(r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	if raw == "" {
		return 0, false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

// run executes fn on the tick goroutine. It answers 503 itself when the
// tick loop is gone and reports whether fn ran.
func (s *Server) run(w http.ResponseWriter, r *http.Request, fn func(*world.Manager)) bool {
	err := s.sync.RunSync(r.Context(), fn)
	if err == nil {
		return true
	}
	if errors.Is(err, rendezvous.ErrClosed) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("503 Service Unavailable"))
	} else {
		s.log.Debug("api request abandoned", zap.String("path", r.URL.Path), zap.Error(err))
	}
	return false
}

// selectWhere visits the entities expr matches. A bad expression is
// reported before any entity is visited.
func (s *Server) selectWhere(m *world.Manager, expr string, fn func(*world.Entity)) error {
	if err := s.sel.CompileSelector(expr); err != nil {
		return err
	}
	var firstErr error
	m.Each(func(e *world.Entity) {
		ok, err := s.sel.Match(expr, subjectOf(e))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			fn(e)
		}
	})
	return firstErr
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleListMascots(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("selector")
	views := []Mascot{}
	var selErr error
	if !s.run(w, r, func(m *world.Manager) {
		selErr = s.selectWhere(m, expr, func(e *world.Entity) { views = append(views, viewOf(e)) })
	}) {
		return
	}
	if selErr != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid selector"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mascots": views})
}

func (s *Server) handleSpawnMascot(w http.ResponseWriter, r *http.Request) {
	var req SpawnRequest
	if err := decodeBody(r, s.schemas.spawn, &req); err != nil {
		badRequest(w, r)
		return
	}
	var (
		view   Mascot
		status = http.StatusOK
	)
	if !s.run(w, r, func(m *world.Manager) {
		var (
			id  ecs.EntityID
			err error
		)
		switch {
		case req.DataID != nil:
			id, err = m.SpawnByID(*req.DataID)
		case req.Name != nil:
			id, err = m.Spawn(*req.Name)
		default:
			err = world.ErrUnknownTemplate
		}
		if err != nil {
			status = http.StatusBadRequest
			return
		}
		e, _ := m.Get(id)
		req.Patch.apply(e)
		view = viewOf(e)
	}) {
		return
	}
	if status != http.StatusOK {
		writeJSON(w, status, errorBody("Invalid mascot name or data ID"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mascot": view})
}

func (s *Server) handleGetMascot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, r)
		return
	}
	var view *Mascot
	if !s.run(w, r, func(m *world.Manager) {
		if e, found := m.Get(ecs.EntityID(id)); found {
			v := viewOf(e)
			view = &v
		}
	}) {
		return
	}
	if view == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"mascot": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mascot": view})
}

func (s *Server) handleUpdateMascot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, r)
		return
	}
	var patch Patch
	if err := decodeBody(r, s.schemas.update, &patch); err != nil {
		badRequest(w, r)
		return
	}
	var view *Mascot
	if !s.run(w, r, func(m *world.Manager) {
		if e, found := m.Get(ecs.EntityID(id)); found {
			patch.apply(e)
			v := viewOf(e)
			view = &v
		}
	}) {
		return
	}
	if view == nil {
		writeJSON(w, http.StatusNotFound, errorBody("No such mascot"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mascot": view})
}

func (s *Server) handleDeleteMascot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, r)
		return
	}
	var err error
	if !s.run(w, r, func(m *world.Manager) { err = m.MarkForDeletion(ecs.EntityID(id)) }) {
		return
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("404 Not Found"))
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// handleDeleteMascots marks every mascot the selector matches. A request
// without a JSON body selects everything.
func (s *Server) handleDeleteMascots(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if isJSON(r) {
		if err := decodeBody(r, s.schemas.delete, &req); err != nil {
			badRequest(w, r)
			return
		}
	}
	marked := 0
	var selErr error
	if !s.run(w, r, func(m *world.Manager) {
		selErr = s.selectWhere(m, req.Selector, func(e *world.Entity) {
			if m.MarkForDeletion(e.ID) == nil {
				marked++
			}
		})
	}) {
		return
	}
	if selErr != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid selector"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": marked})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	views := []LoadedMascot{}
	if !s.run(w, r, func(m *world.Manager) {
		for _, t := range m.Catalog().All() {
			views = append(views, LoadedMascot{ID: t.ID, Name: t.Name})
		}
	}) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded_mascots": views})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, r)
		return
	}
	var t *data.Template
	if !s.run(w, r, func(m *world.Manager) {
		if found, ok := m.Catalog().ByID(id); ok {
			t = found
		}
	}) {
		return
	}
	if t == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"loaded_mascot": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded_mascot": LoadedMascot{ID: t.ID, Name: t.Name}})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		badRequest(w, r)
		return
	}
	s.hub.ServeWS(w, r)
}
