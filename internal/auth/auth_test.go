package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"expense-api/internal/models"
	"expense-api/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, CheckPassword("s3cret", hash))
	assert.False(t, CheckPassword("wrong", hash))
	assert.False(t, CheckPassword("s3cret", "not-a-hash"))
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a, 40)
	assert.Regexp(t, "^[0-9a-f]{40}$", a)
	assert.NotEqual(t, a, b)
}

// ServiceTestSuite exercises the identity service on an in-memory database.
type ServiceTestSuite struct {
	suite.Suite
	db      *storage.DB
	service *Service
	ctx     context.Context
}

// SetupTest runs before each test
func (suite *ServiceTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.service = NewService(db, time.Hour)
	suite.ctx = context.Background()
}

// TearDownTest runs after each test
func (suite *ServiceTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *ServiceTestSuite) register(username, password string) {
	require.NoError(suite.T(), suite.service.Register(suite.ctx, username, password))
}

func (suite *ServiceTestSuite) TestRegister() {
	suite.register("alice", "pw")

	user, err := suite.db.GetUserByUsername(suite.ctx, "alice")
	require.NoError(suite.T(), err)
	assert.False(suite.T(), user.IsStaff)
	assert.True(suite.T(), CheckPassword("pw", user.PasswordHash))
}

func (suite *ServiceTestSuite) TestRegisterValidation() {
	tests := []struct {
		name     string
		username string
		password string
		field    string
	}{
		{"missing username", "", "pw", "username"},
		{"blank username", "   ", "pw", "username"},
		{"missing password", "dave", "", "password"},
		{"long username", strings.Repeat("a", MaxUsernameLength+1), "pw", "username"},
		{"long password", "erin", strings.Repeat("p", MaxPasswordBytes+1), "password"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			err := suite.service.Register(suite.ctx, tt.username, tt.password)
			var verr *models.ValidationError
			require.ErrorAs(suite.T(), err, &verr)
			assert.Contains(suite.T(), verr.Fields, tt.field)
		})
	}
}

func (suite *ServiceTestSuite) TestRegisterDuplicate() {
	suite.register("alice", "pw")

	err := suite.service.Register(suite.ctx, "alice", "other")
	var verr *models.ValidationError
	require.ErrorAs(suite.T(), err, &verr)
	assert.Equal(suite.T(), models.ErrUsernameTaken.Error(), verr.Fields["username"])
}

func (suite *ServiceTestSuite) TestAuthenticate() {
	suite.register("alice", "pw")

	session, err := suite.service.Authenticate(suite.ctx, "alice", "pw")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "alice", session.Username)
	assert.NotZero(suite.T(), session.UserID)
	assert.Len(suite.T(), session.Token, 40)

	again, err := suite.service.Authenticate(suite.ctx, "alice", "pw")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), session.Token, again.Token, "repeat logins return the same key")
}

func (suite *ServiceTestSuite) TestAuthenticateInvalid() {
	suite.register("alice", "pw")

	_, err := suite.service.Authenticate(suite.ctx, "alice", "nope")
	assert.ErrorIs(suite.T(), err, models.ErrInvalidCredentials)

	_, err = suite.service.Authenticate(suite.ctx, "mallory", "pw")
	assert.ErrorIs(suite.T(), err, models.ErrInvalidCredentials)

	_, err = suite.service.Authenticate(suite.ctx, "alice", "")
	assert.ErrorIs(suite.T(), err, models.ErrInvalidCredentials)
}

func (suite *ServiceTestSuite) TestAuthenticateConcurrent() {
	suite.register("alice", "pw")

	const workers = 5
	tokens := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := suite.service.Authenticate(suite.ctx, "alice", "pw")
			if assert.NoError(suite.T(), err) {
				tokens[i] = session.Token
			}
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(suite.T(), tokens[0], tok)
	}
}

func (suite *ServiceTestSuite) TestResolve() {
	suite.register("alice", "pw")
	session, err := suite.service.Authenticate(suite.ctx, "alice", "pw")
	require.NoError(suite.T(), err)

	user, err := suite.service.Resolve(suite.ctx, session.Token)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), session.UserID, user.ID)

	_, err = suite.service.Resolve(suite.ctx, "")
	assert.ErrorIs(suite.T(), err, models.ErrUnauthenticated)

	_, err = suite.service.Resolve(suite.ctx, "0123456789abcdef0123456789abcdef01234567")
	assert.ErrorIs(suite.T(), err, models.ErrUnauthenticated)
}

func (suite *ServiceTestSuite) TestExpiredTokenIsReplaced() {
	suite.register("alice", "pw")
	session, err := suite.service.Authenticate(suite.ctx, "alice", "pw")
	require.NoError(suite.T(), err)

	suite.service.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = suite.service.Resolve(suite.ctx, session.Token)
	assert.ErrorIs(suite.T(), err, models.ErrUnauthenticated)

	renewed, err := suite.service.Authenticate(suite.ctx, "alice", "pw")
	require.NoError(suite.T(), err)
	assert.NotEqual(suite.T(), session.Token, renewed.Token)

	suite.service.now = time.Now
	_, err = suite.service.Resolve(suite.ctx, renewed.Token)
	assert.NoError(suite.T(), err)
}

func (suite *ServiceTestSuite) TestZeroTTLNeverExpires() {
	service := NewService(suite.db, 0)
	service.now = func() time.Time { return time.Now().Add(100 * 365 * 24 * time.Hour) }

	require.NoError(suite.T(), service.Register(suite.ctx, "alice", "pw"))
	session, err := service.Authenticate(suite.ctx, "alice", "pw")
	require.NoError(suite.T(), err)

	_, err = service.Resolve(suite.ctx, session.Token)
	assert.NoError(suite.T(), err)
}

func (suite *ServiceTestSuite) TestRevoke() {
	suite.register("alice", "pw")
	session, err := suite.service.Authenticate(suite.ctx, "alice", "pw")
	require.NoError(suite.T(), err)

	user, err := suite.service.Resolve(suite.ctx, session.Token)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.service.Revoke(suite.ctx, user))

	_, err = suite.service.Resolve(suite.ctx, session.Token)
	assert.ErrorIs(suite.T(), err, models.ErrUnauthenticated)

	fresh, err := suite.service.Authenticate(suite.ctx, "alice", "pw")
	require.NoError(suite.T(), err)
	assert.NotEqual(suite.T(), session.Token, fresh.Token)
}

func (suite *ServiceTestSuite) TestEnsureUser() {
	created, err := suite.service.EnsureUser(suite.ctx, "admin", "pw", true)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), created)

	created, err = suite.service.EnsureUser(suite.ctx, "admin", "other", true)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), created)

	admin, err := suite.db.GetUserByUsername(suite.ctx, "admin")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), admin.IsStaff)
	assert.True(suite.T(), CheckPassword("pw", admin.PasswordHash), "existing password is kept")

	_, err = suite.service.EnsureUser(suite.ctx, "", "pw", true)
	assert.True(suite.T(), models.IsValidation(err))
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
