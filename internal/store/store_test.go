package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type DirectorySuite struct {
	suite.Suite
	db  *sql.DB
	dir *Directory
	ctx context.Context
}

func TestDirectory(t *testing.T) {
	suite.Run(t, new(DirectorySuite))
}

func (suite *DirectorySuite) SetupTest() {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(suite.T(), err)
	db.SetMaxOpenConns(1)

	dir, err := NewDirectory(db)
	require.NoError(suite.T(), err)

	suite.db = db
	suite.dir = dir
	suite.ctx = context.Background()
}

func (suite *DirectorySuite) TearDownTest() {
	suite.db.Close()
}

func (suite *DirectorySuite) TestCreateAndGetUser() {
	age := 36
	created, err := suite.dir.CreateUser(suite.ctx, User{Name: "Ada", Email: " Ada@Example.com ", Age: &age})
	require.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), created.ID)
	assert.Equal(suite.T(), "ada@example.com", created.Email)

	got, err := suite.dir.GetUser(suite.ctx, created.ID)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), got)
	assert.Equal(suite.T(), "Ada", got.Name)
	require.NotNil(suite.T(), got.Age)
	assert.Equal(suite.T(), 36, *got.Age)
}

func (suite *DirectorySuite) TestUserWithoutAge() {
	created, err := suite.dir.CreateUser(suite.ctx, User{Name: "Bob", Email: "bob@example.com"})
	require.NoError(suite.T(), err)

	got, err := suite.dir.GetUser(suite.ctx, created.ID)
	require.NoError(suite.T(), err)
	assert.Nil(suite.T(), got.Age)
}

func (suite *DirectorySuite) TestDuplicateEmail() {
	_, err := suite.dir.CreateUser(suite.ctx, User{Name: "Ada", Email: "ada@example.com"})
	require.NoError(suite.T(), err)

	_, err = suite.dir.CreateUser(suite.ctx, User{Name: "Other Ada", Email: "ADA@example.com"})
	assert.ErrorIs(suite.T(), err, ErrDuplicateEmail)
}

func (suite *DirectorySuite) TestGetMissingUser() {
	got, err := suite.dir.GetUser(suite.ctx, "missing")
	require.NoError(suite.T(), err)
	assert.Nil(suite.T(), got)
}

func (suite *DirectorySuite) TestContacts() {
	user, err := suite.dir.CreateUser(suite.ctx, User{Name: "Ada", Email: "ada@example.com"})
	require.NoError(suite.T(), err)

	for _, name := range []string{"Charles", "Mary", "Charles"} {
		_, err := suite.dir.AddContact(suite.ctx, Contact{
			UserID:      user.ID,
			ContactName: name,
			PhoneNumber: "+44 20 7946 0000",
			Email:       "c@example.com",
		})
		require.NoError(suite.T(), err)
	}

	all, err := suite.dir.ListContacts(suite.ctx, user.ID, "")
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), all, 3)

	filtered, err := suite.dir.ListContacts(suite.ctx, user.ID, "Charles")
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), filtered, 2)
	for _, c := range filtered {
		assert.Equal(suite.T(), user.ID, c.UserID)
		assert.NotEmpty(suite.T(), c.ID)
	}

	none, err := suite.dir.ListContacts(suite.ctx, "someone-else", "")
	require.NoError(suite.T(), err)
	assert.NotNil(suite.T(), none)
	assert.Empty(suite.T(), none)
}

func (suite *DirectorySuite) TestAddContactUnknownUser() {
	_, err := suite.dir.AddContact(suite.ctx, Contact{UserID: "ghost", ContactName: "x", PhoneNumber: "1", Email: "x@example.com"})
	assert.ErrorIs(suite.T(), err, ErrUserNotFound)
}

func TestNewDirectory_MigrationsAreIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	_, err = NewDirectory(db)
	require.NoError(t, err)
	_, err = NewDirectory(db)
	require.NoError(t, err)

	var version int
	require.NoError(t, db.QueryRow("SELECT MAX(version) FROM directory_schema_version").Scan(&version))
	assert.Equal(t, len(migrations), version)
}
