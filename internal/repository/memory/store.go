// Package memory is an in-process implementation of the repository interfaces.
// Transactions are serialized and roll back by restoring a snapshot.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/repository"
)

type state struct {
	nextID int64

	combatants     map[int64]*model.Combatant
	disciplines    map[int64]*model.Discipline
	authorizations map[int64]*model.Authorization
	marshals       map[int64]*model.Marshal
	cards          map[int64]*model.Card
	cardAuths      map[int64]map[int64]struct{}
	cardWarrants   map[int64]map[int64]struct{}
	waivers        map[int64]*model.Waiver
	reminders      map[int64]*model.Reminder
	codes          map[uuid.UUID]*model.OneTimeCode
	switches       map[string]*model.FeatureSwitch
	permissions    map[string]*model.Permission
	grants         []model.UserPermission
}

func newState() *state {
	return &state{
		combatants:     map[int64]*model.Combatant{},
		disciplines:    map[int64]*model.Discipline{},
		authorizations: map[int64]*model.Authorization{},
		marshals:       map[int64]*model.Marshal{},
		cards:          map[int64]*model.Card{},
		cardAuths:      map[int64]map[int64]struct{}{},
		cardWarrants:   map[int64]map[int64]struct{}{},
		waivers:        map[int64]*model.Waiver{},
		reminders:      map[int64]*model.Reminder{},
		codes:          map[uuid.UUID]*model.OneTimeCode{},
		switches:       map[string]*model.FeatureSwitch{},
		permissions:    map[string]*model.Permission{},
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func cloneMap[K comparable, V any](in map[K]*V) map[K]*V {
	out := make(map[K]*V, len(in))
	for k, v := range in {
		c := *v
		out[k] = &c
	}
	return out
}

func cloneSet(in map[int64]map[int64]struct{}) map[int64]map[int64]struct{} {
	out := make(map[int64]map[int64]struct{}, len(in))
	for k, set := range in {
		c := make(map[int64]struct{}, len(set))
		for id := range set {
			c[id] = struct{}{}
		}
		out[k] = c
	}
	return out
}

func (s *state) clone() *state {
	c := &state{
		nextID:         s.nextID,
		combatants:     cloneMap(s.combatants),
		disciplines:    cloneMap(s.disciplines),
		authorizations: cloneMap(s.authorizations),
		marshals:       cloneMap(s.marshals),
		cards:          cloneMap(s.cards),
		cardAuths:      cloneSet(s.cardAuths),
		cardWarrants:   cloneSet(s.cardWarrants),
		waivers:        cloneMap(s.waivers),
		reminders:      cloneMap(s.reminders),
		codes:          cloneMap(s.codes),
		switches:       cloneMap(s.switches),
		permissions:    cloneMap(s.permissions),
		grants:         append([]model.UserPermission(nil), s.grants...),
	}
	for _, fs := range c.switches {
		fs.Allowed = append([]int64(nil), fs.Allowed...)
	}
	return c
}

// Store holds all data in maps guarded by a mutex.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store { return &Store{st: newState()} }

// Repos returns repositories bound to the store.
func (s *Store) Repos() repository.Repos {
	return repository.Repos{
		Combatants:  combatants{s},
		Disciplines: disciplines{s},
		Cards:       cards{s},
		Waivers:     waivers{s},
		Reminders:   reminders{s},
		Codes:       codes{s},
		Switches:    switches{s},
		Permissions: permissions{s},
	}
}

// InTx runs fn exclusively; on error every change made by fn is discarded.
func (s *Store) InTx(ctx context.Context, fn func(r repository.Repos) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	return fn(s.Repos())
}

func (s *Store) restore(snap *state) {
	s.mu.Lock()
	s.st = snap
	s.mu.Unlock()
}

func (s *Store) with(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// AddDiscipline seeds a discipline.
func (s *Store) AddDiscipline(name, slug string) *model.Discipline {
	var d model.Discipline
	_ = s.with(func(st *state) error {
		d = model.Discipline{ID: st.id(), Name: name, Slug: slug}
		st.disciplines[d.ID] = &d
		return nil
	})
	c := d
	return &c
}

// AddAuthorization seeds an authorization for a discipline.
func (s *Store) AddAuthorization(disciplineID int64, name, slug string, primary bool) *model.Authorization {
	var a model.Authorization
	_ = s.with(func(st *state) error {
		a = model.Authorization{ID: st.id(), DisciplineID: disciplineID, Name: name, Slug: slug, IsPrimary: primary}
		st.authorizations[a.ID] = &a
		return nil
	})
	c := a
	return &c
}

// AddMarshal seeds a marshal warrant type for a discipline.
func (s *Store) AddMarshal(disciplineID int64, name, slug string) *model.Marshal {
	var m model.Marshal
	_ = s.with(func(st *state) error {
		m = model.Marshal{ID: st.id(), DisciplineID: disciplineID, Name: name, Slug: slug}
		st.marshals[m.ID] = &m
		return nil
	})
	c := m
	return &c
}

// AddPermission seeds a permission.
func (s *Store) AddPermission(slug, name string, global bool) *model.Permission {
	var p model.Permission
	_ = s.with(func(st *state) error {
		p = model.Permission{ID: st.id(), Slug: slug, Name: name, Global: global}
		st.permissions[slug] = &p
		return nil
	})
	c := p
	return &c
}

/************ combatants ************/

type combatants struct{ s *Store }

func (r combatants) Create(_ context.Context, c *model.Combatant) error {
	return r.s.with(func(st *state) error {
		for _, o := range st.combatants {
			if o.UUID == c.UUID || (c.CardID != "" && o.CardID == c.CardID) {
				return errs.ErrAlreadyExists
			}
		}
		c.ID = st.id()
		c.LastUpdate = time.Now().UTC()
		cp := *c
		st.combatants[c.ID] = &cp
		return nil
	})
}

func (r combatants) Get(_ context.Context, id int64) (*model.Combatant, error) {
	var out *model.Combatant
	err := r.s.with(func(st *state) error {
		c, ok := st.combatants[id]
		if !ok {
			return errs.ErrNotFound
		}
		cp := *c
		out = &cp
		return nil
	})
	return out, err
}

func (r combatants) GetByCardID(_ context.Context, cardID string) (*model.Combatant, error) {
	var out *model.Combatant
	err := r.s.with(func(st *state) error {
		if cardID == "" {
			return errs.ErrNotFound
		}
		for _, c := range st.combatants {
			if c.CardID == cardID {
				cp := *c
				out = &cp
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return out, err
}

func (r combatants) list(match func(c *model.Combatant) bool, limit int) []*model.Combatant {
	var out []*model.Combatant
	_ = r.s.with(func(st *state) error {
		for _, c := range st.combatants {
			if match(c) {
				cp := *c
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r combatants) ListByEmail(_ context.Context, email string) ([]*model.Combatant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.list(func(c *model.Combatant) bool { return strings.ToLower(c.Email) == email }, 0), nil
}

func (r combatants) ListWithoutPIN(_ context.Context, limit int) ([]*model.Combatant, error) {
	return r.list(func(c *model.Combatant) bool { return c.PrivacyAccepted && c.PINHash == "" }, limit), nil
}

func (r combatants) update(id int64, fn func(c *model.Combatant) error) error {
	return r.s.with(func(st *state) error {
		c, ok := st.combatants[id]
		if !ok {
			return errs.ErrNotFound
		}
		return fn(c)
	})
}

func (r combatants) UpdateInfo(_ context.Context, id int64, u model.InfoUpdate) error {
	return r.update(id, func(c *model.Combatant) error {
		c.Email, c.SCAName, c.LegalName, c.Phone = u.Email, u.SCAName, u.LegalName, u.Phone
		c.Address1, c.Address2, c.City, c.Province, c.PostalCode = u.Address1, u.Address2, u.City, u.Province, u.PostalCode
		c.LastUpdate = time.Now().UTC()
		return nil
	})
}

func (r combatants) AcceptPrivacy(_ context.Context, id int64, cardID string) error {
	return r.s.with(func(st *state) error {
		c, ok := st.combatants[id]
		if !ok {
			return errs.ErrNotFound
		}
		for _, o := range st.combatants {
			if o.ID != id && o.CardID == cardID {
				return errs.ErrAlreadyExists
			}
		}
		c.PrivacyAccepted = true
		c.CardID = cardID
		return nil
	})
}

func (r combatants) SetPIN(_ context.Context, id int64, hash string) error {
	return r.update(id, func(c *model.Combatant) error {
		c.PINHash, c.PINFailedAttempts, c.PINLockedUntil = hash, 0, nil
		return nil
	})
}

func (r combatants) ClearPIN(_ context.Context, id int64) error {
	return r.update(id, func(c *model.Combatant) error {
		c.PINHash, c.PINFailedAttempts, c.PINLockedUntil = "", 0, nil
		return nil
	})
}

func (r combatants) Delete(_ context.Context, id int64) error {
	return r.s.with(func(st *state) error {
		if _, ok := st.combatants[id]; !ok {
			return errs.ErrNotFound
		}
		delete(st.combatants, id)
		for cid, c := range st.cards {
			if c.CombatantID == id {
				delete(st.cards, cid)
				delete(st.cardAuths, cid)
				delete(st.cardWarrants, cid)
			}
		}
		for wid, w := range st.waivers {
			if w.CombatantID == id {
				delete(st.waivers, wid)
			}
		}
		for k, code := range st.codes {
			if code.CombatantID == id {
				delete(st.codes, k)
			}
		}
		return nil
	})
}

/************ disciplines ************/

type disciplines struct{ s *Store }

func (r disciplines) Get(_ context.Context, id int64) (*model.Discipline, error) {
	var out *model.Discipline
	err := r.s.with(func(st *state) error {
		d, ok := st.disciplines[id]
		if !ok {
			return errs.ErrNotFound
		}
		cp := *d
		out = &cp
		return nil
	})
	return out, err
}

func (r disciplines) List(_ context.Context) ([]*model.Discipline, error) {
	var out []*model.Discipline
	_ = r.s.with(func(st *state) error {
		for _, d := range st.disciplines {
			cp := *d
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r disciplines) GetAuthorization(_ context.Context, id int64) (*model.Authorization, error) {
	var out *model.Authorization
	err := r.s.with(func(st *state) error {
		a, ok := st.authorizations[id]
		if !ok {
			return errs.ErrNotFound
		}
		cp := *a
		out = &cp
		return nil
	})
	return out, err
}

func (r disciplines) GetMarshal(_ context.Context, id int64) (*model.Marshal, error) {
	var out *model.Marshal
	err := r.s.with(func(st *state) error {
		m, ok := st.marshals[id]
		if !ok {
			return errs.ErrNotFound
		}
		cp := *m
		out = &cp
		return nil
	})
	return out, err
}

/************ cards ************/

type cards struct{ s *Store }

func withDiscipline(st *state, c *model.Card) *model.Card {
	cp := *c
	if d, ok := st.disciplines[c.DisciplineID]; ok {
		cp.DisciplineName = d.Name
	}
	return &cp
}

func (r cards) Create(_ context.Context, c *model.Card) error {
	return r.s.with(func(st *state) error {
		for _, o := range st.cards {
			if o.CombatantID == c.CombatantID && o.DisciplineID == c.DisciplineID {
				return errs.ErrAlreadyExists
			}
		}
		if _, ok := st.combatants[c.CombatantID]; !ok {
			return errs.ErrNotFound
		}
		c.ID = st.id()
		cp := *c
		st.cards[c.ID] = &cp
		if d, ok := st.disciplines[c.DisciplineID]; ok {
			c.DisciplineName = d.Name
		}
		return nil
	})
}

func (r cards) Get(_ context.Context, id int64) (*model.Card, error) {
	var out *model.Card
	err := r.s.with(func(st *state) error {
		c, ok := st.cards[id]
		if !ok {
			return errs.ErrNotFound
		}
		out = withDiscipline(st, c)
		return nil
	})
	return out, err
}

func (r cards) GetFor(_ context.Context, combatantID, disciplineID int64) (*model.Card, error) {
	var out *model.Card
	err := r.s.with(func(st *state) error {
		for _, c := range st.cards {
			if c.CombatantID == combatantID && c.DisciplineID == disciplineID {
				out = withDiscipline(st, c)
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return out, err
}

func (r cards) list(match func(c *model.Card) bool) []*model.Card {
	var out []*model.Card
	_ = r.s.with(func(st *state) error {
		for _, c := range st.cards {
			if match(c) {
				out = append(out, withDiscipline(st, c))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r cards) ListByCombatant(_ context.Context, combatantID int64) ([]*model.Card, error) {
	return r.list(func(c *model.Card) bool { return c.CombatantID == combatantID }), nil
}

func (r cards) ListAll(_ context.Context) ([]*model.Card, error) {
	return r.list(func(*model.Card) bool { return true }), nil
}

func (r cards) UpdateIssued(_ context.Context, id int64, issued time.Time) error {
	return r.s.with(func(st *state) error {
		c, ok := st.cards[id]
		if !ok {
			return errs.ErrNotFound
		}
		c.DateIssued = issued
		return nil
	})
}

func (r cards) Delete(_ context.Context, id int64) error {
	return r.s.with(func(st *state) error {
		if _, ok := st.cards[id]; !ok {
			return errs.ErrNotFound
		}
		delete(st.cards, id)
		delete(st.cardAuths, id)
		delete(st.cardWarrants, id)
		return nil
	})
}

func addTo(sets map[int64]map[int64]struct{}, cardID, id int64) {
	set, ok := sets[cardID]
	if !ok {
		set = map[int64]struct{}{}
		sets[cardID] = set
	}
	set[id] = struct{}{}
}

func removeFrom(sets map[int64]map[int64]struct{}, cardID, id int64) error {
	set := sets[cardID]
	if _, ok := set[id]; !ok {
		return errs.ErrNotFound
	}
	delete(set, id)
	return nil
}

func (r cards) AddAuthorization(_ context.Context, cardID, authorizationID int64) error {
	return r.s.with(func(st *state) error {
		if _, ok := st.cards[cardID]; !ok {
			return errs.ErrNotFound
		}
		addTo(st.cardAuths, cardID, authorizationID)
		return nil
	})
}

func (r cards) RemoveAuthorization(_ context.Context, cardID, authorizationID int64) error {
	return r.s.with(func(st *state) error { return removeFrom(st.cardAuths, cardID, authorizationID) })
}

func (r cards) AddWarrant(_ context.Context, cardID, marshalID int64) error {
	return r.s.with(func(st *state) error {
		if _, ok := st.cards[cardID]; !ok {
			return errs.ErrNotFound
		}
		addTo(st.cardWarrants, cardID, marshalID)
		return nil
	})
}

func (r cards) RemoveWarrant(_ context.Context, cardID, marshalID int64) error {
	return r.s.with(func(st *state) error { return removeFrom(st.cardWarrants, cardID, marshalID) })
}

func (r cards) Counts(_ context.Context, cardID int64) (int, int, error) {
	var a, w int
	err := r.s.with(func(st *state) error {
		a, w = len(st.cardAuths[cardID]), len(st.cardWarrants[cardID])
		return nil
	})
	return a, w, err
}

/************ waivers ************/

type waivers struct{ s *Store }

func (r waivers) Create(_ context.Context, w *model.Waiver) error {
	return r.s.with(func(st *state) error {
		for _, o := range st.waivers {
			if o.CombatantID == w.CombatantID {
				return errs.ErrAlreadyExists
			}
		}
		if _, ok := st.combatants[w.CombatantID]; !ok {
			return errs.ErrNotFound
		}
		w.ID = st.id()
		cp := *w
		st.waivers[w.ID] = &cp
		return nil
	})
}

func (r waivers) find(match func(w *model.Waiver) bool) (*model.Waiver, error) {
	var out *model.Waiver
	err := r.s.with(func(st *state) error {
		for _, w := range st.waivers {
			if match(w) {
				cp := *w
				out = &cp
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return out, err
}

func (r waivers) Get(_ context.Context, id int64) (*model.Waiver, error) {
	return r.find(func(w *model.Waiver) bool { return w.ID == id })
}

func (r waivers) GetByCombatant(_ context.Context, combatantID int64) (*model.Waiver, error) {
	return r.find(func(w *model.Waiver) bool { return w.CombatantID == combatantID })
}

func (r waivers) ListAll(_ context.Context) ([]*model.Waiver, error) {
	var out []*model.Waiver
	_ = r.s.with(func(st *state) error {
		for _, w := range st.waivers {
			cp := *w
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r waivers) UpdateSigned(_ context.Context, id int64, signed time.Time) error {
	return r.s.with(func(st *state) error {
		w, ok := st.waivers[id]
		if !ok {
			return errs.ErrNotFound
		}
		w.DateSigned = signed
		return nil
	})
}

func (r waivers) Delete(_ context.Context, id int64) error {
	return r.s.with(func(st *state) error {
		if _, ok := st.waivers[id]; !ok {
			return errs.ErrNotFound
		}
		delete(st.waivers, id)
		return nil
	})
}

/************ reminders ************/

type reminders struct{ s *Store }

// LockOwner is a no-op: transactions are already serialized.
func (reminders) LockOwner(context.Context, model.OwnerRef) error { return nil }

func (r reminders) Create(_ context.Context, rem *model.Reminder) error {
	return r.s.with(func(st *state) error {
		for _, o := range st.reminders {
			if o.Owner == rem.Owner && o.DaysToExpiry == rem.DaysToExpiry {
				return errs.ErrAlreadyExists
			}
		}
		rem.ID = st.id()
		cp := *rem
		st.reminders[rem.ID] = &cp
		return nil
	})
}

func (r reminders) DeleteForOwner(_ context.Context, owner model.OwnerRef) (int64, error) {
	var n int64
	err := r.s.with(func(st *state) error {
		for id, rem := range st.reminders {
			if rem.Owner == owner {
				delete(st.reminders, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r reminders) list(match func(st *state, rem *model.Reminder) bool) []model.Reminder {
	var out []model.Reminder
	_ = r.s.with(func(st *state) error {
		for _, rem := range st.reminders {
			if match(st, rem) {
				out = append(out, *rem)
			}
		}
		return nil
	})
	return out
}

func (r reminders) ListForOwner(_ context.Context, owner model.OwnerRef) ([]model.Reminder, error) {
	out := r.list(func(_ *state, rem *model.Reminder) bool { return rem.Owner == owner })
	sort.Slice(out, func(i, j int) bool { return out[i].DaysToExpiry > out[j].DaysToExpiry })
	return out, nil
}

func (r reminders) ListDue(_ context.Context, today time.Time) ([]model.Reminder, error) {
	out := r.list(func(_ *state, rem *model.Reminder) bool { return !rem.DueDate.After(today) })
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Owner.Kind != b.Owner.Kind {
			return a.Owner.Kind < b.Owner.Kind
		}
		if a.Owner.ID != b.Owner.ID {
			return a.Owner.ID < b.Owner.ID
		}
		return a.DueDate.Before(b.DueDate)
	})
	return out, nil
}

func (r reminders) ListOrphans(_ context.Context) ([]model.Reminder, error) {
	out := r.list(func(st *state, rem *model.Reminder) bool {
		switch rem.Owner.Kind {
		case model.OwnerCard:
			_, ok := st.cards[rem.Owner.ID]
			return !ok
		case model.OwnerWaiver:
			_, ok := st.waivers[rem.Owner.ID]
			return !ok
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reminders) Delete(_ context.Context, id int64) (bool, error) {
	var ok bool
	err := r.s.with(func(st *state) error {
		_, ok = st.reminders[id]
		delete(st.reminders, id)
		return nil
	})
	return ok, err
}

/************ codes ************/

type codes struct{ s *Store }

func (r codes) Create(_ context.Context, c *model.OneTimeCode) error {
	return r.s.with(func(st *state) error {
		if _, ok := st.codes[c.Code]; ok {
			return errs.ErrAlreadyExists
		}
		if _, ok := st.combatants[c.CombatantID]; !ok {
			return errs.ErrNotFound
		}
		c.ID = st.id()
		cp := *c
		st.codes[c.Code] = &cp
		return nil
	})
}

func (r codes) Get(_ context.Context, code uuid.UUID) (*model.OneTimeCode, error) {
	var out *model.OneTimeCode
	err := r.s.with(func(st *state) error {
		c, ok := st.codes[code]
		if !ok {
			return errs.ErrNotFound
		}
		cp := *c
		out = &cp
		return nil
	})
	return out, err
}

func (r codes) Consume(_ context.Context, code uuid.UUID, now time.Time) (bool, error) {
	var won bool
	err := r.s.with(func(st *state) error {
		c, ok := st.codes[code]
		if !ok || !c.IsValid(now) {
			return nil
		}
		t := now
		c.Consumed, c.ConsumedAt = true, &t
		won = true
		return nil
	})
	return won, err
}

func (r codes) Purge(_ context.Context, now, olderThan time.Time) (int64, error) {
	var n int64
	err := r.s.with(func(st *state) error {
		for k, c := range st.codes {
			if !c.ExpiresAt.After(now) || c.Consumed || c.CreatedAt.Before(olderThan) {
				delete(st.codes, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

/************ feature switches ************/

type switches struct{ s *Store }

func (r switches) Get(_ context.Context, name string) (*model.FeatureSwitch, error) {
	var out *model.FeatureSwitch
	err := r.s.with(func(st *state) error {
		fs, ok := st.switches[name]
		if !ok {
			return errs.ErrNotFound
		}
		cp := *fs
		cp.Allowed = append([]int64(nil), fs.Allowed...)
		out = &cp
		return nil
	})
	return out, err
}

func (r switches) Upsert(_ context.Context, fs *model.FeatureSwitch) error {
	return r.s.with(func(st *state) error {
		fs.UpdatedAt = time.Now().UTC()
		cp := *fs
		cp.Allowed = append([]int64(nil), fs.Allowed...)
		st.switches[fs.Name] = &cp
		return nil
	})
}

/************ permissions ************/

type permissions struct{ s *Store }

func (r permissions) Has(_ context.Context, userID int64, slug string, disciplineID *int64) (bool, error) {
	var ok bool
	err := r.s.with(func(st *state) error {
		p, found := st.permissions[slug]
		if !found {
			return nil
		}
		for _, g := range st.grants {
			if g.UserID != userID || g.PermissionID != p.ID {
				continue
			}
			if p.Global || (disciplineID != nil && g.DisciplineID != nil && *g.DisciplineID == *disciplineID) {
				ok = true
				return nil
			}
		}
		return nil
	})
	return ok, err
}

func (r permissions) Grant(_ context.Context, userID int64, slug string, disciplineID *int64) error {
	return r.s.with(func(st *state) error {
		p, ok := st.permissions[slug]
		if !ok {
			return errs.ErrNotFound
		}
		var d *int64
		if !p.Global && disciplineID != nil {
			v := *disciplineID
			d = &v
		}
		for _, g := range st.grants {
			if g.UserID == userID && g.PermissionID == p.ID && eqPtr(g.DisciplineID, d) {
				return nil
			}
		}
		st.grants = append(st.grants, model.UserPermission{ID: st.id(), UserID: userID, PermissionID: p.ID, DisciplineID: d})
		return nil
	})
}

func eqPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
