package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Container is the process-wide registry of student lists. A single mutex
// guards the whole graph of lists, conversations and messages; every
// accessor on every entity takes it through the owning container.
type Container struct {
	mu      sync.Mutex
	backend Backend
	log     zerolog.Logger
	clock   func() time.Time

	lists map[string]*StudentList
	order []string // student IDs, sorted
	// pending holds lists whose metadata is stored but which have no
	// visible conversation yet. They keep their conversation counter so a
	// retry never reuses a number already written.
	pending   map[string]*StudentList
	listeners []Listener
}

// Option configures a Container.
type Option func(*Container)

// WithClock replaces time.Now as the source of message creation times.
func WithClock(clock func() time.Time) Option {
	return func(c *Container) { c.clock = clock }
}

// NewContainer creates an empty container writing through backend.
func NewContainer(backend Backend, log zerolog.Logger, opts ...Option) *Container {
	c := &Container{
		backend: backend,
		log:     log.With().Str("component", "conversation").Logger(),
		clock:   time.Now,
		lists:   make(map[string]*StudentList),
		pending: make(map[string]*StudentList),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// now returns the current time at second resolution, which is what the
// wire format carries.
func (c *Container) now() time.Time {
	return c.clock().Truncate(time.Second)
}

// Load fills the container from the backend. It runs once at startup before
// any listener is registered. Records the model cannot accept (empty IDs,
// duplicates, unknown states) are logged and skipped.
func (c *Container) Load(ctx context.Context) error {
	snapshots, err := c.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var convs, msgs int
	for _, snap := range snapshots {
		if snap.Student.StudentID == "" {
			c.log.Warn().Msg("Skipping student list with empty student ID")
			continue
		}
		if c.lists[snap.Student.StudentID] != nil || c.pending[snap.Student.StudentID] != nil {
			c.log.Warn().Str("student_id", snap.Student.StudentID).Msg("Skipping duplicate student list")
			continue
		}

		list := newStudentList(c, snap.Student)
		for _, cs := range snap.Conversations {
			conv, n := c.loadConversationSnapshot(list, cs)
			if conv == nil {
				continue
			}
			if n == 0 {
				list.reserveLocked(conv.number)
				c.log.Warn().
					Str("student_id", list.key.StudentID).
					Int("conv", conv.number).
					Msg("Skipping conversation without messages")
				continue
			}
			list.loadConversation(conv)
			convs++
			msgs += n
		}
		if len(list.conversations) == 0 {
			c.pending[list.key.StudentID] = list
			c.log.Debug().Str("student_id", list.key.StudentID).Msg("Holding back student list without conversations")
			continue
		}
		c.loadStudentListLocked(list)
	}

	c.log.Info().
		Int("students", len(c.lists)).
		Int("conversations", convs).
		Int("messages", msgs).
		Msg("Loaded conversations")
	return nil
}

func (c *Container) loadConversationSnapshot(list *StudentList, cs ConversationSnapshot) (*Conversation, int) {
	logger := c.log.With().Str("student_id", list.key.StudentID).Int("conv", cs.Number).Logger()
	if cs.Number <= 0 {
		logger.Warn().Msg("Skipping conversation with invalid number")
		return nil, 0
	}
	if list.conversationByNumberLocked(cs.Number) != nil {
		logger.Warn().Msg("Skipping duplicate conversation")
		return nil, 0
	}

	conv := newConversation(list, cs.Number, cs.Subject)
	records := append([]MessageRecord(nil), cs.Messages...)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].MessageNumber < records[j].MessageNumber
	})
	for _, rec := range records {
		if rec.MessageNumber <= 0 || !rec.State.Valid() {
			logger.Warn().Int("msg", rec.MessageNumber).Str("state", string(rec.State)).Msg("Skipping invalid message")
			continue
		}
		if conv.greatest >= rec.MessageNumber {
			logger.Warn().Int("msg", rec.MessageNumber).Msg("Skipping duplicate message")
			continue
		}
		conv.loadMessage(newMessage(conv, rec.MessageNumber, rec.Created, rec.Author, rec.State, rec.WhenRead))
	}
	return conv, len(conv.messages)
}

// StudentKey finds the key for a student ID.
func (c *Container) StudentKey(studentID string) (StudentKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.studentKeyLocked(studentID)
}

func (c *Container) studentKeyLocked(studentID string) (StudentKey, bool) {
	for _, id := range c.order {
		if id == studentID {
			return c.lists[id].key, true
		}
	}
	return StudentKey{}, false
}

// StudentList returns the list for key, or nil.
func (c *Container) StudentList(key StudentKey) *StudentList {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists[key.StudentID]
}

// StudentKeys returns every student key in ID order.
func (c *Container) StudentKeys() []StudentKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]StudentKey, 0, len(c.order))
	for _, id := range c.order {
		keys = append(keys, c.lists[id].key)
	}
	return keys
}

// AddListener registers l. Registering the same listener twice has no effect.
func (c *Container) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addListenerLocked(l)
}

func (c *Container) addListenerLocked(l Listener) {
	for _, existing := range c.listeners {
		if existing == l {
			return
		}
	}
	c.listeners = append(c.listeners, l)
}

// RemoveListener unregisters l. Removing an unknown listener is a no-op.
func (c *Container) RemoveListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Container) notify(fn func(Listener)) {
	for _, l := range c.listeners {
		fn(l)
	}
}

// NewStudentList returns an unattached, unpersisted list for key.
func (c *Container) NewStudentList(key StudentKey) *StudentList {
	return newStudentList(c, key)
}

// CreateStudentList persists a new list for key and attaches it. It fails
// when the student already has a list.
func (c *Container) CreateStudentList(ctx context.Context, key StudentKey) (*StudentList, error) {
	if key.StudentID == "" {
		return nil, ErrEmptyStudentID
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.lists[key.StudentID]; exists {
		return nil, fmt.Errorf("student %s: %w", key.StudentID, ErrAlreadyAttached)
	}
	list := c.storedListLocked(key)
	if err := c.persistListLocked(ctx, list); err != nil {
		return nil, err
	}
	c.attachListLocked(list)
	c.notifyListAddedLocked(list)
	return list, nil
}

// storedListLocked returns the held-back list for key, renamed to key, or a
// fresh list when the student was never stored.
func (c *Container) storedListLocked(key StudentKey) *StudentList {
	if list := c.pending[key.StudentID]; list != nil {
		list.key = key
		return list
	}
	return newStudentList(c, key)
}

// AddStudentList attaches a list whose metadata the caller has already
// written to the backend, then notifies listeners.
func (c *Container) AddStudentList(list *StudentList) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if list.c != c {
		return fmt.Errorf("student %s: %w", list.key.StudentID, ErrStudentNotFound)
	}
	if _, exists := c.lists[list.key.StudentID]; exists || list.attached {
		return fmt.Errorf("student %s: %w", list.key.StudentID, ErrAlreadyAttached)
	}
	if held := c.pending[list.key.StudentID]; held != nil && held != list {
		list.reserveLocked(held.greatest)
	}
	c.attachListLocked(list)
	c.notifyListAddedLocked(list)
	return nil
}

func (c *Container) loadStudentListLocked(list *StudentList) {
	c.attachListLocked(list)
}

func (c *Container) persistListLocked(ctx context.Context, list *StudentList) error {
	if err := c.backend.WriteStudentList(ctx, ListRecord{Student: list.key}); err != nil {
		return fmt.Errorf("%w: write student list: %w", ErrPersistence, err)
	}
	return nil
}

func (c *Container) attachListLocked(list *StudentList) {
	id := list.key.StudentID
	i := sort.SearchStrings(c.order, id)
	c.order = append(c.order, "")
	copy(c.order[i+1:], c.order[i:])
	c.order[i] = id
	c.lists[id] = list
	delete(c.pending, id)
	list.attached = true
}

func (c *Container) notifyListAddedLocked(list *StudentList) {
	summary := list.summaryLocked()
	c.notify(func(l Listener) { l.StudentListAdded(summary) })
}

// Post describes one post-message request. Exactly one of
// ConversationNumber and Subject is set: a subject opens a new conversation,
// a number appends to an existing one.
type Post struct {
	Student            StudentKey
	ConversationNumber int
	Subject            string
	Author             StudentKey
	State              MessageState
	Content            string
}

func (p Post) validate() error {
	if p.Student.StudentID == "" {
		return ErrEmptyStudentID
	}
	if (p.ConversationNumber > 0) == (p.Subject != "") {
		return ErrConversationTarget
	}
	if !p.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, string(p.State))
	}
	return nil
}

// Post stores a message, creating the student list and the conversation
// when needed. All backend writes happen before anything becomes reachable,
// so a failed write leaves the model as it was. Listeners then see
// StudentListAdded, ConversationAdded and MessageAdded in that order, each
// only when the corresponding object is new.
func (c *Container) Post(ctx context.Context, p Post) (*Message, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.lists[p.Student.StudentID]
	newList := list == nil
	if newList {
		if p.ConversationNumber > 0 {
			return nil, fmt.Errorf("student %s: %w", p.Student.StudentID, ErrConversationNotFound)
		}
		list = c.storedListLocked(p.Student)
		if err := c.persistListLocked(ctx, list); err != nil {
			return nil, err
		}
		c.pending[list.key.StudentID] = list
	}

	var conv *Conversation
	newConv := p.Subject != ""
	if newConv {
		conv = list.createConversationLocked(p.Subject)
		if err := list.persistConversationLocked(ctx, conv); err != nil {
			return nil, err
		}
	} else {
		conv = list.conversationByNumberLocked(p.ConversationNumber)
		if conv == nil {
			return nil, fmt.Errorf("student %s conversation %d: %w", p.Student.StudentID, p.ConversationNumber, ErrConversationNotFound)
		}
	}

	m, err := conv.persistMessageLocked(ctx, p.Author, p.State, p.Content)
	if err != nil {
		return nil, err
	}

	conv.messages = append(conv.messages, m)
	conv.apply(m.state.weight())
	if newConv {
		list.insertLocked(conv)
		conv.attached = true
	}
	if newList {
		c.attachListLocked(list)
		c.notifyListAddedLocked(list)
	}
	if newConv {
		summary := conv.summaryLocked()
		c.notify(func(l Listener) { l.ConversationAdded(summary) })
	}
	conv.notifyMessageAddedLocked(m)
	return m, nil
}

// UpdateMessage sets the state and then the read time of one message under
// a single lock acquisition. A nil whenRead clears the read time.
func (c *Container) UpdateMessage(ctx context.Context, ref MessageRef, state MessageState, whenRead *time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.messageLocked(ref)
	if err != nil {
		return err
	}
	if err := m.setStateLocked(ctx, state); err != nil {
		return err
	}
	return m.setWhenReadLocked(ctx, whenRead)
}

// UpdateSubject changes the subject of one conversation.
func (c *Container) UpdateSubject(ctx context.Context, studentID string, convNumber int, subject string) error {
	if subject == "" {
		return ErrEmptySubject
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, err := c.conversationLocked(studentID, convNumber)
	if err != nil {
		return err
	}
	return conv.setSubjectLocked(ctx, subject)
}

func (c *Container) conversationLocked(studentID string, convNumber int) (*Conversation, error) {
	list := c.lists[studentID]
	if list == nil {
		return nil, fmt.Errorf("student %s: %w", studentID, ErrStudentNotFound)
	}
	conv := list.conversationByNumberLocked(convNumber)
	if conv == nil {
		return nil, fmt.Errorf("student %s conversation %d: %w", studentID, convNumber, ErrConversationNotFound)
	}
	return conv, nil
}

func (c *Container) messageLocked(ref MessageRef) (*Message, error) {
	conv, err := c.conversationLocked(ref.StudentID, ref.ConversationNumber)
	if err != nil {
		return nil, err
	}
	m := conv.messageByNumberLocked(ref.MessageNumber)
	if m == nil {
		return nil, fmt.Errorf("student %s conversation %d message %d: %w",
			ref.StudentID, ref.ConversationNumber, ref.MessageNumber, ErrMessageNotFound)
	}
	return m, nil
}

// Roster returns one summary per student in ID order.
func (c *Container) Roster() []ListSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rosterLocked()
}

func (c *Container) rosterLocked() []ListSummary {
	out := make([]ListSummary, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.lists[id].summaryLocked())
	}
	return out
}

// Stats counts what the container holds.
func (c *Container) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Students: len(c.lists), Listeners: len(c.listeners)}
	for _, list := range c.lists {
		s.Conversations += len(list.conversations)
		for _, conv := range list.conversations {
			s.Messages += len(conv.messages)
		}
	}
	return s
}

// Atomically runs fn with the container locked. Everything fn does through
// the Reader, registering a listener included, happens with no mutation in
// between.
func (c *Container) Atomically(fn func(r *Reader)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&Reader{c: c})
}
