package storage

import (
	"context"
	"path/filepath"
	"testing"

	"expense-api/internal/auth"
	"expense-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

// DBTestSuite provides a test suite for database operations
type DBTestSuite struct {
	suite.Suite
	db   *DB
	ctx  context.Context
	user *models.User
}

// SetupTest runs before each test
func (suite *DBTestSuite) SetupTest() {
	db, err := NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db
	suite.ctx = context.Background()

	hash, err := auth.NewHasher(bcrypt.MinCost).Hash("testpass")
	require.NoError(suite.T(), err, "failed to hash password")

	user, err := suite.db.CreateUser(suite.ctx, "testuser", "test@example.com", hash)
	require.NoError(suite.T(), err, "failed to create test user")
	suite.user = user
}

// TearDownTest runs after each test
func (suite *DBTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *DBTestSuite) createExpense(amount int64, category, date string, key *string) *models.Expense {
	e, err := suite.db.CreateExpense(suite.ctx, &models.Expense{
		UserID:         suite.user.ID,
		Amount:         amount,
		Category:       category,
		Description:    "desc " + category,
		Date:           date,
		IdempotencyKey: key,
	})
	require.NoError(suite.T(), err, "failed to create expense")
	return e
}

func (suite *DBTestSuite) TestCreateUser() {
	assert.NotZero(suite.T(), suite.user.ID)
	assert.Equal(suite.T(), "testuser", suite.user.Username)
	assert.Equal(suite.T(), "test@example.com", suite.user.Email)
	assert.False(suite.T(), suite.user.CreatedAt.IsZero(), "created_at should be set")
}

func (suite *DBTestSuite) TestCreateUserDuplicate() {
	_, err := suite.db.CreateUser(suite.ctx, "TESTUSER", "other@example.com", "hash")
	assert.ErrorIs(suite.T(), err, ErrDuplicate, "username uniqueness is case-insensitive")

	_, err = suite.db.CreateUser(suite.ctx, "other", "test@example.com", "hash")
	assert.ErrorIs(suite.T(), err, ErrDuplicate)
}

func (suite *DBTestSuite) TestFindUserByUsernameOrEmail() {
	u, err := suite.db.FindUserByUsernameOrEmail(suite.ctx, "testuser", "nobody@example.com")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), suite.user.ID, u.ID)

	u, err = suite.db.FindUserByUsernameOrEmail(suite.ctx, "nobody", "test@example.com")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), suite.user.ID, u.ID)

	_, err = suite.db.FindUserByUsernameOrEmail(suite.ctx, "nobody", "nobody@example.com")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestGetUserByEmail() {
	u, err := suite.db.GetUserByEmail(suite.ctx, "test@example.com")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "testuser", u.Username)
	assert.True(suite.T(), auth.CheckPassword("testpass", u.PasswordHash))

	_, err = suite.db.GetUserByEmail(suite.ctx, "missing@example.com")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestCreateExpense() {
	e := suite.createExpense(1250, "Food", "2024-01-15", nil)

	assert.NotZero(suite.T(), e.ID)
	assert.Equal(suite.T(), int64(1250), e.Amount)
	assert.Equal(suite.T(), "Food", e.Category)
	assert.Equal(suite.T(), "2024-01-15", e.Date)
	assert.Nil(suite.T(), e.IdempotencyKey)
	assert.False(suite.T(), e.CreatedAt.IsZero())
}

func (suite *DBTestSuite) TestCreateExpenseDuplicateKey() {
	key := "key-1"
	first := suite.createExpense(100, "Food", "2024-01-15", &key)
	require.NotNil(suite.T(), first.IdempotencyKey)
	assert.Equal(suite.T(), key, *first.IdempotencyKey)

	_, err := suite.db.CreateExpense(suite.ctx, &models.Expense{
		UserID: suite.user.ID, Amount: 200, Category: "Food", Description: "again", Date: "2024-01-16", IdempotencyKey: &key,
	})
	assert.ErrorIs(suite.T(), err, ErrDuplicate)

	found, err := suite.db.GetExpenseByIdempotencyKey(suite.ctx, suite.user.ID, key)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), first.ID, found.ID)
}

func (suite *DBTestSuite) TestCreateExpensesWithoutKeys() {
	// NULL keys never collide
	suite.createExpense(100, "Food", "2024-01-15", nil)
	suite.createExpense(100, "Food", "2024-01-15", nil)

	expenses, err := suite.db.ListExpenses(suite.ctx, ExpenseFilter{UserID: suite.user.ID})
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), expenses, 2)
}

func (suite *DBTestSuite) TestGetExpenseByIdempotencyKeyScopedToUser() {
	key := "shared"
	suite.createExpense(100, "Food", "2024-01-15", &key)

	other, err := suite.db.CreateUser(suite.ctx, "other", "other@example.com", "hash")
	require.NoError(suite.T(), err)

	_, err = suite.db.GetExpenseByIdempotencyKey(suite.ctx, other.ID, key)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *DBTestSuite) TestListExpensesOrdering() {
	a := suite.createExpense(100, "Food", "2024-01-10", nil)
	b := suite.createExpense(200, "Transport", "2024-01-20", nil)
	c := suite.createExpense(300, "Food", "2024-01-10", nil)

	byID, err := suite.db.ListExpenses(suite.ctx, ExpenseFilter{UserID: suite.user.ID})
	require.NoError(suite.T(), err)
	require.Len(suite.T(), byID, 3)
	assert.Equal(suite.T(), []int64{c.ID, b.ID, a.ID}, expenseIDs(byID))

	byDate, err := suite.db.ListExpenses(suite.ctx, ExpenseFilter{UserID: suite.user.ID, Sort: SortDateDesc})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []int64{b.ID, c.ID, a.ID}, expenseIDs(byDate))
}

func (suite *DBTestSuite) TestListExpensesFilter() {
	suite.createExpense(100, "Food", "2024-01-10", nil)
	suite.createExpense(200, "Transport", "2024-01-20", nil)

	food, err := suite.db.ListExpenses(suite.ctx, ExpenseFilter{UserID: suite.user.ID, Category: "Food"})
	require.NoError(suite.T(), err)
	require.Len(suite.T(), food, 1)
	assert.Equal(suite.T(), "Food", food[0].Category)

	none, err := suite.db.ListExpenses(suite.ctx, ExpenseFilter{UserID: suite.user.ID, Category: "Gifts"})
	require.NoError(suite.T(), err)
	assert.NotNil(suite.T(), none)
	assert.Empty(suite.T(), none)
}

func (suite *DBTestSuite) TestListExpensesScopedToUser() {
	suite.createExpense(100, "Food", "2024-01-10", nil)

	other, err := suite.db.CreateUser(suite.ctx, "other", "other@example.com", "hash")
	require.NoError(suite.T(), err)

	expenses, err := suite.db.ListExpenses(suite.ctx, ExpenseFilter{UserID: other.ID})
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), expenses)
}

func (suite *DBTestSuite) TestListCategories() {
	suite.createExpense(100, "Transport", "2024-01-10", nil)
	suite.createExpense(200, "Food", "2024-01-11", nil)
	suite.createExpense(300, "Food", "2024-01-12", nil)

	categories, err := suite.db.ListCategories(suite.ctx, suite.user.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"Food", "Transport"}, categories)
}

func (suite *DBTestSuite) TestDeleteUserCascades() {
	suite.createExpense(100, "Food", "2024-01-10", nil)

	require.NoError(suite.T(), suite.db.DeleteUser(suite.ctx, suite.user.ID))

	_, err := suite.db.GetUserByID(suite.ctx, suite.user.ID)
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	expenses, err := suite.db.ListExpenses(suite.ctx, ExpenseFilter{UserID: suite.user.ID})
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), expenses, "expenses should be removed with their owner")

	assert.ErrorIs(suite.T(), suite.db.DeleteUser(suite.ctx, suite.user.ID), ErrNotFound)
}

func (suite *DBTestSuite) TestCreateExpenseUnknownUser() {
	_, err := suite.db.CreateExpense(suite.ctx, &models.Expense{
		UserID: 9999, Amount: 100, Category: "Food", Description: "x", Date: "2024-01-10",
	})
	assert.Error(suite.T(), err, "foreign keys should be enforced")
}

func (suite *DBTestSuite) TestUserCount() {
	count, err := suite.db.UserCount(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, count)
}

func (suite *DBTestSuite) TestPing() {
	assert.NoError(suite.T(), suite.db.Ping(suite.ctx))
}

func expenseIDs(expenses []models.Expense) []int64 {
	ids := make([]int64, 0, len(expenses))
	for _, e := range expenses {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestNewDB_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expenses.db")

	db, err := NewDB(path)
	require.NoError(t, err)
	_, err = db.CreateUser(context.Background(), "ann", "a@x.com", "hash")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening runs migrations again without losing data
	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()

	count, err := db.UserCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewDB_InvalidPath(t *testing.T) {
	_, err := NewDB(t.TempDir())
	assert.Error(t, err)
}

// Test suite runners
func TestDBSuite(t *testing.T) {
	suite.Run(t, new(DBTestSuite))
}
