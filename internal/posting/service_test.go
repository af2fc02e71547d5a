package posting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/chain"
	"github.com/meridian-erp/meridian-erp/internal/coa"
	"github.com/meridian-erp/meridian-erp/internal/openitems"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/vat"
)

const testTenant = shared.TenantID(1)

// ============================================================================
// FAKES
// ============================================================================

// fakeState is the whole ledger as one value, so a transaction can run
// against a deep copy and commit by swapping it in.
type fakeState struct {
	nextSeq    map[shared.TenantID]int64
	nextHeader shared.HeaderID
	headers    []JournalEntryHeader
	lines      map[shared.HeaderID][]JournalEntryLine
	nextItem   shared.OpenItemID
	items      map[shared.OpenItemID]openitems.OpenItem
	nextVat    shared.VatMovementID
	vats       []vat.Movement
	sources    map[string]struct{}
}

func newFakeState() *fakeState {
	return &fakeState{
		nextSeq: make(map[shared.TenantID]int64),
		lines:   make(map[shared.HeaderID][]JournalEntryLine),
		items:   make(map[shared.OpenItemID]openitems.OpenItem),
		sources: make(map[string]struct{}),
	}
}

func (s *fakeState) clone() *fakeState {
	out := newFakeState()
	out.nextHeader = s.nextHeader
	out.nextItem = s.nextItem
	out.nextVat = s.nextVat
	out.headers = append(out.headers, s.headers...)
	out.vats = append(out.vats, s.vats...)
	for k, v := range s.nextSeq {
		out.nextSeq[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = append([]JournalEntryLine(nil), v...)
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	for k := range s.sources {
		out.sources[k] = struct{}{}
	}
	return out
}

type fakeRepo struct {
	mu    sync.Mutex
	state *fakeState
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{state: newFakeState()}
}

func (r *fakeRepo) ListHeaders(ctx context.Context, tenantID shared.TenantID, page shared.Pagination) ([]JournalEntryHeader, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []JournalEntryHeader
	for _, h := range r.state.headers {
		if h.TenantID == tenantID {
			out = append(out, h)
		}
	}
	return out, len(out), nil
}

func (r *fakeRepo) GetHeaderWithLines(ctx context.Context, tenantID shared.TenantID, id shared.HeaderID) (JournalEntryHeader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.state.headers {
		if h.TenantID == tenantID && h.ID == id {
			h.Lines = r.state.lines[id]
			return h, nil
		}
	}
	return JournalEntryHeader{}, ErrHeaderNotFound
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	staged := r.state.clone()
	if err := fn(ctx, &fakeTx{state: staged}); err != nil {
		return err
	}
	r.state = staged
	return nil
}

type fakeTx struct {
	state *fakeState
}

func (t *fakeTx) AllocateProtocol(ctx context.Context, tenantID shared.TenantID) (int64, error) {
	next := t.state.nextSeq[tenantID]
	if next == 0 {
		next = 1
	}
	t.state.nextSeq[tenantID] = next + 1
	return next, nil
}

func (t *fakeTx) InsertHeader(ctx context.Context, header JournalEntryHeader) (JournalEntryHeader, error) {
	key := fmt.Sprintf("%d/%s", header.TenantID, header.SourceRef)
	if _, dup := t.state.sources[key]; dup {
		return JournalEntryHeader{}, ErrSourceAlreadyPosted
	}
	t.state.sources[key] = struct{}{}
	t.state.nextHeader++
	header.ID = t.state.nextHeader
	header.CreatedAt = time.Now()
	t.state.headers = append(t.state.headers, header)
	return header, nil
}

func (t *fakeTx) InsertLines(ctx context.Context, headerID shared.HeaderID, lines []JournalEntryLine) error {
	for i := range lines {
		lines[i].HeaderID = headerID
	}
	t.state.lines[headerID] = append(t.state.lines[headerID], lines...)
	return nil
}

func (t *fakeTx) InsertVatMovement(ctx context.Context, movement vat.Movement) (vat.Movement, error) {
	t.state.nextVat++
	movement.ID = t.state.nextVat
	t.state.vats = append(t.state.vats, movement)
	return movement, nil
}

func (t *fakeTx) OpenItems() openitems.TxRepository {
	return t
}

func (t *fakeTx) GetOpenItemForUpdate(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID) (openitems.OpenItem, error) {
	item, ok := t.state.items[id]
	if !ok || item.TenantID != tenantID {
		return openitems.OpenItem{}, openitems.ErrOpenItemNotFound
	}
	return item, nil
}

func (t *fakeTx) InsertOpenItem(ctx context.Context, item openitems.OpenItem) (openitems.OpenItem, error) {
	// header_id carries a foreign key; zero maps to NULL, anything else
	// must reference a header written earlier in the transaction.
	if item.HeaderID != 0 {
		found := false
		for _, h := range t.state.headers {
			if h.ID == item.HeaderID {
				found = true
				break
			}
		}
		if !found {
			return openitems.OpenItem{}, fmt.Errorf("open item references missing journal header %d", item.HeaderID)
		}
	}
	t.state.nextItem++
	item.ID = t.state.nextItem
	t.state.items[item.ID] = item
	return item, nil
}

func (t *fakeTx) MarkClosed(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID) error {
	item, ok := t.state.items[id]
	if !ok || item.TenantID != tenantID || item.State != openitems.StateOpen {
		return openitems.ErrOpenItemNotOpen
	}
	item.State = openitems.StateClosed
	t.state.items[id] = item
	return nil
}

type fakeCatalog map[string]catalog.FunctionTemplate

func (f fakeCatalog) GetTemplate(ctx context.Context, tenantID shared.TenantID, code string) (catalog.FunctionTemplate, error) {
	tpl, ok := f[code]
	if !ok {
		return catalog.FunctionTemplate{}, catalog.ErrTemplateNotFound
	}
	return tpl, nil
}

type fakeGraph map[string][]chain.Edge

func (f fakeGraph) GetSecondaries(ctx context.Context, tenantID shared.TenantID, primaryCode string) ([]chain.Edge, error) {
	return f[primaryCode], nil
}

type fakeDirectory map[shared.AccountID]coa.AccountInfo

func (f fakeDirectory) ResolveAccount(ctx context.Context, tenantID shared.TenantID, id shared.AccountID) (coa.AccountInfo, error) {
	info, ok := f[id]
	if !ok {
		return coa.AccountInfo{Ref: id}, nil
	}
	return info, nil
}

// ============================================================================
// FIXTURES
// ============================================================================

const (
	acctExpense  = shared.AccountID(5000)
	acctVat      = shared.AccountID(1500)
	acctSupplier = shared.AccountID(2100)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func acctPtr(id shared.AccountID) *shared.AccountID {
	return &id
}

func testDirectory() fakeDirectory {
	return fakeDirectory{
		acctExpense:  {Ref: acctExpense, Exists: true, AcceptsDirectPostings: true, Classification: coa.ClassCost},
		acctVat:      {Ref: acctVat, Exists: true, AcceptsDirectPostings: true, Classification: coa.ClassAsset},
		acctSupplier: {Ref: acctSupplier, Exists: true, AcceptsDirectPostings: true, Classification: coa.ClassLiability},
	}
}

func purchaseInvoiceTemplate() catalog.FunctionTemplate {
	return catalog.FunctionTemplate{
		ID:       1,
		TenantID: testTenant,
		Code:     "FATT_ACQ",
		Name:     "Purchase invoice",
		Class:    catalog.ClassPrimary,
		Flags:    []catalog.Flag{catalog.FlagHandlesVAT},
		Active:   true,
		Rows: []catalog.FunctionRow{
			{Position: 1, Slot: "expense", Account: catalog.SearchableAccount(coa.ClassCost), Side: catalog.Debit},
			{Position: 2, Slot: "vat", Account: catalog.FixedAccount(acctVat), Side: catalog.Debit, VatBearing: true, Register: vat.RegisterPurchases},
			{Position: 3, Slot: "supplier", Account: catalog.SearchableAccount(coa.ClassLiability), Side: catalog.Credit},
		},
	}
}

func openItemTemplate(code string) catalog.FunctionTemplate {
	return catalog.FunctionTemplate{
		ID:       2,
		TenantID: testTenant,
		Code:     code,
		Name:     "Open item movement",
		Class:    catalog.ClassSecondary,
		Flags:    []catalog.Flag{catalog.FlagManagesOpenItems},
		Active:   true,
		Rows: []catalog.FunctionRow{
			{Position: 1, Slot: "partita", Account: catalog.SearchableAccount(coa.ClassLiability), Side: catalog.Credit},
			{Position: 2, Slot: "contropartita", Account: catalog.SearchableAccount(coa.ClassLiability), Side: catalog.Debit},
		},
	}
}

func passThroughMappings() []chain.ParameterMapping {
	return []chain.ParameterMapping{
		{Origin: "supplier.account", DestEntity: chain.DestBinding, DestField: "partita.account"},
		{Origin: "supplier.account", DestEntity: chain.DestBinding, DestField: "contropartita.account"},
		{Origin: "document.total", DestEntity: chain.DestBinding, DestField: "partita.amount"},
		{Origin: "document.total", DestEntity: chain.DestBinding, DestField: "contropartita.amount"},
		{Origin: "supplier.account", DestEntity: chain.DestOpenItem, DestField: "counterparty"},
		{Origin: "document.total", DestEntity: chain.DestOpenItem, DestField: "amount"},
	}
}

func purchaseInput() PostingInput {
	return PostingInput{
		TenantID:     testTenant,
		FunctionCode: "FATT_ACQ",
		Bindings: Bindings{
			"expense":  {Account: acctPtr(acctExpense), Amount: decPtr("100")},
			"vat":      {TaxBase: decPtr("100"), TaxRate: decPtr("22")},
			"supplier": {Account: acctPtr(acctSupplier), Amount: decPtr("122")},
		},
		DocumentDate:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		DocumentNumber: "INV-2026-042",
		DueDate:        time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
	}
}

func newTestService(repo *fakeRepo, templates fakeCatalog, graph fakeGraph) *Service {
	return NewService(repo, templates, graph, testDirectory(), nil, nil)
}

// ============================================================================
// TESTS
// ============================================================================

func TestPostPurchaseInvoice(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})

	result, err := svc.Post(context.Background(), purchaseInput())
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Protocol)
	require.Len(t, result.HeaderIDs, 1)
	require.Len(t, repo.state.headers, 1)

	header := repo.state.headers[0]
	assert.Equal(t, "FATT_ACQ", header.FunctionCode)
	assert.True(t, header.DocumentTotal.Equal(dec("122")))

	lines := repo.state.lines[header.ID]
	require.Len(t, lines, 3)
	assert.Equal(t, acctExpense, lines[0].Account)
	assert.Equal(t, catalog.Debit, lines[0].Side)
	assert.True(t, lines[0].Amount.Equal(dec("100")))
	assert.Equal(t, acctVat, lines[1].Account)
	assert.True(t, lines[1].Amount.Equal(dec("22")))
	assert.Equal(t, acctSupplier, lines[2].Account)
	assert.Equal(t, catalog.Credit, lines[2].Side)
	assert.True(t, lines[2].Amount.Equal(dec("122")))

	require.Len(t, repo.state.vats, 1)
	movement := repo.state.vats[0]
	assert.Equal(t, vat.RegisterPurchases, movement.Register)
	assert.True(t, movement.Base.Equal(dec("100")))
	assert.True(t, movement.Rate.Equal(dec("22")))
	assert.True(t, movement.Tax.Equal(dec("22")))
}

func TestPostMissingBindingWritesNothing(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})

	in := purchaseInput()
	delete(in.Bindings, "supplier")

	_, err := svc.Post(context.Background(), in)
	require.ErrorIs(t, err, ErrMissingBinding)

	assert.Empty(t, repo.state.headers)
	assert.Empty(t, repo.state.vats)
	assert.Zero(t, repo.state.nextSeq[testTenant], "no protocol may be consumed")
}

func TestPostImbalancedWritesNothing(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})

	in := purchaseInput()
	in.Bindings["supplier"] = Binding{Account: acctPtr(acctSupplier), Amount: decPtr("120")}

	_, err := svc.Post(context.Background(), in)
	require.ErrorIs(t, err, ErrImbalancedPosting)
	assert.Empty(t, repo.state.headers)
}

func TestPostLinkedChainOpensItem(t *testing.T) {
	repo := newFakeRepo()
	templates := fakeCatalog{
		"FATT_ACQ":         purchaseInvoiceTemplate(),
		"APERTURA_PARTITA": openItemTemplate("APERTURA_PARTITA"),
	}
	graph := fakeGraph{
		"FATT_ACQ": {{
			ID:            1,
			TenantID:      testTenant,
			PrimaryCode:   "FATT_ACQ",
			SecondaryCode: "APERTURA_PARTITA",
			Order:         1,
			Mappings:      passThroughMappings(),
		}},
	}
	svc := newTestService(repo, templates, graph)

	result, err := svc.Post(context.Background(), purchaseInput())
	require.NoError(t, err)

	require.Len(t, result.HeaderIDs, 2)
	require.Len(t, repo.state.headers, 2)
	assert.Equal(t, int64(1), repo.state.headers[0].Protocol)
	assert.Equal(t, int64(2), repo.state.headers[1].Protocol)
	assert.Equal(t, "APERTURA_PARTITA", repo.state.headers[1].FunctionCode)

	require.Len(t, result.OpenItemIDs, 1)
	item := repo.state.items[result.OpenItemIDs[0]]
	assert.Equal(t, openitems.StateOpen, item.State)
	assert.Equal(t, openitems.KindCreditOpen, item.Kind)
	assert.Equal(t, acctSupplier, item.Counterparty)
	assert.True(t, item.Amount.Equal(dec("122")))
	assert.Equal(t, repo.state.headers[1].ID, item.HeaderID)
}

func TestPostChainFailureRollsBackEverything(t *testing.T) {
	repo := newFakeRepo()
	templates := fakeCatalog{
		"FATT_ACQ":         purchaseInvoiceTemplate(),
		"APERTURA_PARTITA": openItemTemplate("APERTURA_PARTITA"),
	}
	graph := fakeGraph{
		"FATT_ACQ": {{
			ID:            1,
			TenantID:      testTenant,
			PrimaryCode:   "FATT_ACQ",
			SecondaryCode: "APERTURA_PARTITA",
			Order:         1,
			Mappings: []chain.ParameterMapping{
				{Origin: "missing.value", DestEntity: chain.DestBinding, DestField: "partita.amount"},
			},
		}},
	}
	svc := newTestService(repo, templates, graph)

	_, err := svc.Post(context.Background(), purchaseInput())
	require.Error(t, err)

	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, 1, chainErr.Depth)
	assert.Equal(t, []string{"FATT_ACQ", "APERTURA_PARTITA"}, chainErr.Path)
	assert.ErrorIs(t, err, ErrMissingBinding)

	// The primary succeeded before the secondary failed; nothing survives.
	assert.Empty(t, repo.state.headers)
	assert.Empty(t, repo.state.items)
	assert.Empty(t, repo.state.vats)
}

func TestPostChainClosesReferencedItem(t *testing.T) {
	repo := newFakeRepo()
	closeMappings := []chain.ParameterMapping{
		{Origin: "partita.account", DestEntity: chain.DestBinding, DestField: "partita.account"},
		{Origin: "partita.account", DestEntity: chain.DestBinding, DestField: "contropartita.account"},
		{Origin: "document.total", DestEntity: chain.DestBinding, DestField: "partita.amount"},
		{Origin: "document.total", DestEntity: chain.DestBinding, DestField: "contropartita.amount"},
		{Origin: "open_item.id", DestEntity: chain.DestOpenItem, DestField: "ref_item"},
	}
	templates := fakeCatalog{
		"APERTURA_PARTITA": openItemTemplate("APERTURA_PARTITA"),
		"CHIUSURA_PARTITA": openItemTemplate("CHIUSURA_PARTITA"),
	}
	graph := fakeGraph{
		"APERTURA_PARTITA": {{
			ID:            1,
			TenantID:      testTenant,
			PrimaryCode:   "APERTURA_PARTITA",
			SecondaryCode: "CHIUSURA_PARTITA",
			Order:         1,
			Mappings:      closeMappings,
		}},
	}
	svc := newTestService(repo, templates, graph)

	in := PostingInput{
		TenantID:     testTenant,
		FunctionCode: "APERTURA_PARTITA",
		Bindings: Bindings{
			"partita":       {Account: acctPtr(acctSupplier), Amount: decPtr("122")},
			"contropartita": {Account: acctPtr(acctSupplier), Amount: decPtr("122")},
		},
		DocumentDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Counterparty: acctPtr(acctSupplier),
		DueDate:      time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
	}

	result, err := svc.Post(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, result.OpenItemIDs, 2)

	original := repo.state.items[result.OpenItemIDs[0]]
	assert.Equal(t, openitems.StateClosed, original.State)
	assert.Equal(t, openitems.KindCreditOpen, original.Kind)

	closure := repo.state.items[result.OpenItemIDs[1]]
	assert.Equal(t, openitems.KindClosureCredit, closure.Kind)
	require.NotNil(t, closure.RefItemID)
	assert.Equal(t, original.ID, *closure.RefItemID)
}

func TestPostSourceRefIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})

	in := purchaseInput()
	in.SourceRef = uuid.New()

	_, err := svc.Post(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), in)
	require.ErrorIs(t, err, ErrSourceAlreadyPosted)
	assert.Len(t, repo.state.headers, 1)
}

func TestPostChainTooDeep(t *testing.T) {
	repo := newFakeRepo()
	templates := fakeCatalog{"APERTURA_PARTITA": openItemTemplate("APERTURA_PARTITA")}
	// Configuration rejects self-loops, but a corrupted graph must still be
	// stopped by the depth limit instead of recursing forever.
	graph := fakeGraph{
		"APERTURA_PARTITA": {{
			ID:            1,
			TenantID:      testTenant,
			PrimaryCode:   "APERTURA_PARTITA",
			SecondaryCode: "APERTURA_PARTITA",
			Order:         1,
			Mappings: []chain.ParameterMapping{
				{Origin: "partita.account", DestEntity: chain.DestBinding, DestField: "partita.account"},
				{Origin: "partita.account", DestEntity: chain.DestBinding, DestField: "contropartita.account"},
				{Origin: "document.total", DestEntity: chain.DestBinding, DestField: "partita.amount"},
				{Origin: "document.total", DestEntity: chain.DestBinding, DestField: "contropartita.amount"},
			},
		}},
	}
	svc := newTestService(repo, templates, graph)

	in := PostingInput{
		TenantID:     testTenant,
		FunctionCode: "APERTURA_PARTITA",
		Bindings: Bindings{
			"partita":       {Account: acctPtr(acctSupplier), Amount: decPtr("122")},
			"contropartita": {Account: acctPtr(acctSupplier), Amount: decPtr("122")},
		},
		DocumentDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Counterparty: acctPtr(acctSupplier),
	}

	_, err := svc.Post(context.Background(), in)
	require.ErrorIs(t, err, ErrChainTooDeep)
	assert.Empty(t, repo.state.headers)
}

func TestPostAccountNotPostable(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})

	in := purchaseInput()
	in.Bindings["expense"] = Binding{Account: acctPtr(9999), Amount: decPtr("100")}

	_, err := svc.Post(context.Background(), in)
	require.ErrorIs(t, err, ErrAccountNotPostable)
	assert.Empty(t, repo.state.headers)
}

func TestPostConstraintMismatch(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})

	in := purchaseInput()
	// A cost account in the supplier slot violates the LIABILITY constraint.
	in.Bindings["supplier"] = Binding{Account: acctPtr(acctExpense), Amount: decPtr("122")}

	_, err := svc.Post(context.Background(), in)
	require.ErrorIs(t, err, ErrAccountNotPostable)
}

func TestPostConcurrentProtocolsGapFree(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{"FATT_ACQ": purchaseInvoiceTemplate()}, fakeGraph{})

	const posts = 10
	var mu sync.Mutex
	protocols := make([]int64, 0, posts)

	var g errgroup.Group
	for i := 0; i < posts; i++ {
		g.Go(func() error {
			result, err := svc.Post(context.Background(), purchaseInput())
			if err != nil {
				return err
			}
			mu.Lock()
			protocols = append(protocols, result.Protocol)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(protocols, func(i, j int) bool { return protocols[i] < protocols[j] })
	require.Len(t, protocols, posts)
	for i, p := range protocols {
		assert.Equal(t, int64(i+1), p, "protocols must be dense and duplicate free")
	}
}

func TestPostUnknownTemplate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, fakeCatalog{}, fakeGraph{})

	in := purchaseInput()
	in.FunctionCode = "NO_SUCH_FUNCTION"

	_, err := svc.Post(context.Background(), in)
	require.ErrorIs(t, err, catalog.ErrTemplateNotFound)
}

func TestChainErrorMessage(t *testing.T) {
	err := &ChainError{Depth: 2, Path: []string{"A", "B", "C"}, Err: errors.New("boom")}
	assert.Equal(t, "posting: chain failed at depth 2 (A -> B -> C): boom", err.Error())
}
