package documents

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/contractflow/agent"
	"github.com/BaSui01/contractflow/internal/database"
	"github.com/BaSui01/contractflow/types"
)

type queryLog struct {
	mu  sync.Mutex
	ops []string
}

func (q *queryLog) RecordDBQuery(db, op string, d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, db+":"+op)
}

func setupStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.DSN = ":memory:"
	cfg.Pool.HealthCheckInterval = 0
	pool, err := database.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	s := NewStore(pool, zap.NewNop(), opts...)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSeed_LoadsSamples(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Seed(ctx))
	// 重复执行不产生重复数据
	require.NoError(t, s.Seed(ctx))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, SampleDocumentID, docs[0].ID)

	text, err := s.DocumentText(ctx, SampleDocumentID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "# Non-Disclosure Agreement"))

	rules, err := s.PolicyRules(ctx, SamplePlaybookID)
	require.NoError(t, err)
	limit, ok := rules.String("liability_cap")
	require.True(t, ok)
	assert.Equal(t, "12 months fees", limit)
	assert.Equal(t, []string{"force majeure", "third-party claims"}, rules.Strings("indemnity_exclusions"))
}

func TestDocuments_CreateAndGet(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := setupStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "msa.md", "## Term\nOne year.")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.ID, "doc_"))
	assert.Len(t, doc.ID, len("doc_")+8)
	assert.Equal(t, int64(len("## Term\nOne year.")), doc.Size)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "msa.md", got.Name)
	assert.Equal(t, "## Term\nOne year.", got.Content)
	assert.True(t, fixed.Equal(got.CreatedAt))
}

func TestDocuments_Validation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.CreateDocument(ctx, "  ", "text")
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))

	_, err = s.CreateDocument(ctx, "big.txt", strings.Repeat("x", MaxDocumentSize+1))
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

func TestDocuments_NotFound(t *testing.T) {
	s := setupStore(t)

	_, err := s.GetDocument(context.Background(), "doc_missing")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	_, err = s.DocumentText(context.Background(), "doc_missing")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestPlaybooks_Lifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	pb, err := s.CreatePlaybook(ctx, "Vendor Policy", agent.Policy{"liability_cap": "6 months of fees"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pb.ID, "playbook_"))

	list, err := s.ListPlaybooks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "6 months of fees", list[0].Rules["liability_cap"])

	require.NoError(t, s.DeletePlaybook(ctx, pb.ID))
	err = s.DeletePlaybook(ctx, pb.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	_, err = s.GetPlaybook(ctx, pb.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestPlaybooks_NameRequired(t *testing.T) {
	s := setupStore(t)
	_, err := s.CreatePlaybook(context.Background(), "", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

func TestPlaybooks_NilRulesStoredEmpty(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	pb, err := s.CreatePlaybook(ctx, "Empty", nil)
	require.NoError(t, err)

	got, err := s.GetPlaybook(ctx, pb.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Rules)
	assert.Empty(t, got.Rules)
}

func TestPolicyRules_MissingPlaybookIsEmpty(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rules, err := s.PolicyRules(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, rules)

	rules, err = s.PolicyRules(ctx, "playbook_unknown")
	require.NoError(t, err)
	assert.NotNil(t, rules)
	assert.Empty(t, rules)
}

func TestPolicyRules_ReturnsCopy(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	pb, err := s.CreatePlaybook(ctx, "Policy", agent.Policy{"governing_law": "Delaware"})
	require.NoError(t, err)

	rules, err := s.PolicyRules(ctx, pb.ID)
	require.NoError(t, err)
	rules["governing_law"] = "mutated"

	again, err := s.PolicyRules(ctx, pb.ID)
	require.NoError(t, err)
	assert.Equal(t, "Delaware", again["governing_law"])
}

func TestStore_RecordsQueries(t *testing.T) {
	log := &queryLog{}
	s := setupStore(t, WithQueryRecorder(log))
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "a.md", "text")
	require.NoError(t, err)
	_, err = s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []string{"documents:insert", "documents:select"}, log.ops)
}

func TestStore_ClosedPool(t *testing.T) {
	cfg := database.DefaultConfig()
	cfg.DSN = ":memory:"
	cfg.Pool.HealthCheckInterval = 0
	pool, err := database.Open(cfg, zap.NewNop())
	require.NoError(t, err)

	s := NewStore(pool, nil)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, pool.Close())

	_, err = s.ListDocuments(context.Background())
	assert.True(t, types.IsErrorCode(err, types.ErrStoreFailure))

	err = s.Seed(context.Background())
	assert.Error(t, err)
}
