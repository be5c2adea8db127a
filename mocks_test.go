package vault_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-vault"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// fakeStore is a controllable SessionStore for resolver and gate tests.
type fakeStore struct {
	mu        sync.Mutex
	session   vault.Session
	err       error
	listeners map[int]func(vault.Session)
	nextID    int

	getCalls  int
	signOuts  int
	subsAdded int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listeners: map[int]func(vault.Session){},
	}
}

func (f *fakeStore) GetCurrentSession(ctx context.Context) (vault.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil {
		return nil, vault.ErrNoSession
	}
	return f.session, nil
}

func (f *fakeStore) SubscribeToAuthChanges(fn func(vault.Session)) vault.Unsubscribe {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.subsAdded++
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeStore) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.session = nil
	listeners := f.snapshot()
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return nil
}

// Emit installs a session and fans it out like a real auth transition.
func (f *fakeStore) Emit(s vault.Session) {
	f.mu.Lock()
	f.session = s
	listeners := f.snapshot()
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func (f *fakeStore) snapshot() []func(vault.Session) {
	listeners := make([]func(vault.Session), 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func (f *fakeStore) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func timePtr(t time.Time) *time.Time { return &t }

func testSession(userID, email string, exp time.Time) *vault.SessionObject {
	now := time.Now().Add(-time.Minute)
	return &vault.SessionObject{
		UserID:         userID,
		Email:          email,
		IssuedAt:       &now,
		ExpirationDate: &exp,
	}
}

type testIdentity struct {
	id    string
	email string
}

func (i testIdentity) ID() string    { return i.id }
func (i testIdentity) Email() string { return i.email }

// fakeResolver is a directly controllable SessionResolver.
type fakeResolver struct {
	mu        sync.Mutex
	session   vault.Session
	err       error
	listeners []func(vault.Session)
}

func (f *fakeResolver) Current(ctx context.Context) (vault.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeResolver) Subscribe(fn func(vault.Session)) vault.Unsubscribe {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeResolver) emit(s vault.Session) {
	f.mu.Lock()
	f.session = s
	listeners := append([]func(vault.Session){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// capturingSink collects activity events for assertions.
type capturingSink struct {
	mu     sync.Mutex
	events []vault.ActivityEvent
}

func (s *capturingSink) Record(ctx context.Context, event vault.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) byType(eventType vault.ActivityEventType) []vault.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vault.ActivityEvent
	for _, evt := range s.events {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// recordingNavigator counts redirects issued by the gate.
type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Redirect(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	return nil
}

func (n *recordingNavigator) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.paths...)
}

// Unimplemented repository methods come from the embedded interface and
// panic if reached; tests stub only what the code under test calls.

type MockRepositoryManager struct {
	mock.Mock
	vault.RepositoryManager
}

func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	args := m.Called(ctx, opts, f)
	return args.Error(0)
}

func (m *MockRepositoryManager) Members() vault.Members {
	args := m.Called()
	return args.Get(0).(vault.Members)
}

func (m *MockRepositoryManager) Memberships() vault.Memberships {
	args := m.Called()
	return args.Get(0).(vault.Memberships)
}

func (m *MockRepositoryManager) PaidCustomers() vault.PaidCustomers {
	args := m.Called()
	return args.Get(0).(vault.PaidCustomers)
}

func (m *MockRepositoryManager) SignupTokens() vault.SignupTokens {
	args := m.Called()
	return args.Get(0).(vault.SignupTokens)
}

func (m *MockRepositoryManager) Invites() vault.Invites {
	args := m.Called()
	return args.Get(0).(vault.Invites)
}

type MockSignupTokens struct {
	mock.Mock
	vault.SignupTokens
}

func (m *MockSignupTokens) FindByToken(ctx context.Context, token string) (*vault.SignupToken, error) {
	args := m.Called(ctx, token)
	record, _ := args.Get(0).(*vault.SignupToken)
	return record, args.Error(1)
}

func (m *MockSignupTokens) FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*vault.SignupToken, error) {
	args := m.Called(ctx, tx, token)
	record, _ := args.Get(0).(*vault.SignupToken)
	return record, args.Error(1)
}

func (m *MockSignupTokens) FindByOrderIDTx(ctx context.Context, tx bun.IDB, orderID string) (*vault.SignupToken, error) {
	args := m.Called(ctx, tx, orderID)
	record, _ := args.Get(0).(*vault.SignupToken)
	return record, args.Error(1)
}

func (m *MockSignupTokens) ConsumeTx(ctx context.Context, tx bun.IDB, token string, at time.Time) error {
	args := m.Called(ctx, tx, token, at)
	return args.Error(0)
}

func (m *MockSignupTokens) CreateTx(ctx context.Context, tx bun.IDB, record *vault.SignupToken, criteria ...repository.InsertCriteria) (*vault.SignupToken, error) {
	args := m.Called(ctx, tx, record)
	out, _ := args.Get(0).(*vault.SignupToken)
	return out, args.Error(1)
}

type MockMembers struct {
	mock.Mock
	vault.Members
}

func (m *MockMembers) RegisterTx(ctx context.Context, tx bun.IDB, member *vault.Member) (*vault.Member, error) {
	args := m.Called(ctx, tx, member)
	out, _ := args.Get(0).(*vault.Member)
	return out, args.Error(1)
}

type MockMemberships struct {
	mock.Mock
	vault.Memberships
}

func (m *MockMemberships) FindByUserID(ctx context.Context, userID uuid.UUID) (*vault.Membership, error) {
	args := m.Called(ctx, userID)
	out, _ := args.Get(0).(*vault.Membership)
	return out, args.Error(1)
}

func (m *MockMemberships) FindByEmail(ctx context.Context, email string) (*vault.Membership, error) {
	args := m.Called(ctx, email)
	out, _ := args.Get(0).(*vault.Membership)
	return out, args.Error(1)
}

func (m *MockMemberships) CreateTx(ctx context.Context, tx bun.IDB, record *vault.Membership, criteria ...repository.InsertCriteria) (*vault.Membership, error) {
	args := m.Called(ctx, tx, record)
	out, _ := args.Get(0).(*vault.Membership)
	return out, args.Error(1)
}

type MockPaidCustomers struct {
	mock.Mock
	vault.PaidCustomers
}

func (m *MockPaidCustomers) FindByEmail(ctx context.Context, email string) (*vault.PaidCustomer, error) {
	args := m.Called(ctx, email)
	out, _ := args.Get(0).(*vault.PaidCustomer)
	return out, args.Error(1)
}

type MockInvites struct {
	mock.Mock
	vault.Invites
}

func (m *MockInvites) CreateTx(ctx context.Context, tx bun.IDB, record *vault.Invite, criteria ...repository.InsertCriteria) (*vault.Invite, error) {
	args := m.Called(ctx, tx, record)
	out, _ := args.Get(0).(*vault.Invite)
	return out, args.Error(1)
}

// MockContext mocks router.Context
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}
