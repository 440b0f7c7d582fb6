// Package catalog is the SQL-backed persistence layer for the node
// tree: schema migrations, tree navigation, paginated
// listing, query pushdown, and the create/delete/update-metadata
// operations with their transactional invariants. Wrapped
// transactions, one method per entity operation.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/query"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Store is the catalog's SQL persistence handle. One Store wraps one
// database/sql connection pool; it is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  zerolog.Logger
}

// ancestorSep joins a Node's Ancestors into the single TEXT column
// used for the (ancestors, key) uniqueness constraint. Unit separator
// because node keys may contain "/" (URL-decoded path segments).
const ancestorSep = "\x1f"

func encodeAncestors(ancestors []string) string {
	return strings.Join(ancestors, ancestorSep)
}

func decodeAncestors(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ancestorSep)
}

// Open connects to uri, which is either "sqlite:<path>" or a
// "postgres://..." DSN, and verifies the stored schema revision
// matches what this binary requires: absent (auto-init) and current
// are accepted, anything else refuses to start.
func Open(ctx context.Context, uri string) (*Store, error) {
	driver, dsn, dialect, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}

	s := &Store{db: db, dialect: dialect, logger: log.WithComponent("catalog")}
	if err := s.checkSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func parseURI(uri string) (driver, dsn string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(uri, "sqlite:"):
		return "sqlite", strings.TrimPrefix(uri, "sqlite:"), sqliteDialect{}, nil
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return "postgres", uri, postgresDialect{}, nil
	default:
		return "", "", nil, fmt.Errorf("catalog: unrecognized database_uri scheme in %q", uri)
	}
}

// checkSchema verifies the schema_migrations table agrees with this
// binary's required revision, auto-initializing an empty database.
func (s *Store) checkSchema(ctx context.Context) error {
	var exists int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations")
	if err := row.Scan(&exists); err != nil {
		// Table absent entirely: permit auto-init from a pristine database.
		return s.initSchema(ctx)
	}
	if exists == 0 {
		return s.initSchema(ctx)
	}

	var revision int
	if err := s.db.QueryRowContext(ctx, "SELECT revision FROM schema_migrations LIMIT 1").Scan(&revision); err != nil {
		return apierr.Wrap(apierr.KindUninitializedDatabase, "catalog: could not read schema revision", err)
	}
	if revision != schemaRevision {
		return apierr.New(apierr.KindDatabaseUpgradeNeeded,
			fmt.Sprintf("catalog: database is at schema revision %d, binary requires %d; run the migration tool", revision, schemaRevision))
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.Schema(), ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: init schema: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (revision) VALUES (?)", schemaRevision)
	if err != nil && s.dialect.Name() == "postgres" {
		_, err = s.db.ExecContext(ctx, s.dialect.Rebind("INSERT INTO schema_migrations (revision) VALUES (?)"), schemaRevision)
	}
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool, for packages (pkg/auth)
// that persist their own tables against the same database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Rebind rewrites a "?"-placeholder query for the active dialect.
func (s *Store) Rebind(q string) string {
	return s.dialect.Rebind(q)
}

// DialectName identifies the active SQL dialect ("sqlite" or
// "postgres"), for callers that need dialect-specific DDL or syntax.
func (s *Store) DialectName() string {
	return s.dialect.Name()
}

// exec rebinds a "?"-placeholder query for the active dialect before
// running it.
func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(q), args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(q), args...)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(q), args...)
}

// CreateNode inserts node and returns its assigned id. A collision on
// (ancestors, key) is surfaced as apierr.Conflict.
func (s *Store) CreateNode(ctx context.Context, node *types.Node) (int64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CatalogQueryDuration, "create_node")

	metadataJSON, err := json.Marshal(node.Metadata)
	if err != nil {
		return 0, fmt.Errorf("catalog: marshal metadata: %w", err)
	}
	specsJSON, err := json.Marshal(node.Specs)
	if err != nil {
		return 0, fmt.Errorf("catalog: marshal specs: %w", err)
	}
	var accessBlobJSON any
	if node.AccessBlob != nil {
		b, err := json.Marshal(node.AccessBlob)
		if err != nil {
			return 0, fmt.Errorf("catalog: marshal access_blob: %w", err)
		}
		accessBlobJSON = string(b)
	}

	now := time.Now().UTC()
	var key any
	if node.Key != "" {
		key = node.Key
	}

	res, err := s.exec(ctx,
		`INSERT INTO nodes (key, ancestors, structure_family, metadata, specs, access_blob, time_created, time_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, encodeAncestors(node.Ancestors), string(node.StructureFamily), string(metadataJSON), string(specsJSON), accessBlobJSON, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apierr.Conflict(fmt.Sprintf("catalog: node %v/%s already exists", node.Ancestors, node.Key))
		}
		return 0, fmt.Errorf("catalog: insert node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("catalog: last insert id: %w", err)
	}
	metrics.NodesTotal.Inc()
	return id, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

// GetNode returns the node with the given internal id.
func (s *Store) GetNode(ctx context.Context, id int64) (*types.Node, error) {
	row := s.queryRow(ctx,
		`SELECT id, key, ancestors, structure_family, metadata, specs, access_blob, time_created, time_updated
		 FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

// GetNodeByPath resolves segments relative to root and returns the
// matching node, or nil if none exists.
func (s *Store) GetNodeByPath(ctx context.Context, segments []string) (*types.Node, error) {
	if len(segments) == 0 {
		return s.getRoot(ctx)
	}
	ancestors := encodeAncestors(segments[:len(segments)-1])
	key := segments[len(segments)-1]
	row := s.queryRow(ctx,
		`SELECT id, key, ancestors, structure_family, metadata, specs, access_blob, time_created, time_updated
		 FROM nodes WHERE ancestors = ? AND key = ?`, ancestors, key)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return node, err
}

func (s *Store) getRoot(ctx context.Context) (*types.Node, error) {
	row := s.queryRow(ctx,
		`SELECT id, key, ancestors, structure_family, metadata, specs, access_blob, time_created, time_updated
		 FROM nodes WHERE ancestors = '' AND key IS NULL`)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return node, err
}

// EnsureRoot creates the root container node if one does not already
// exist, returning its id either way.
func (s *Store) EnsureRoot(ctx context.Context) (int64, error) {
	root, err := s.getRoot(ctx)
	if err != nil {
		return 0, err
	}
	if root != nil {
		return root.ID, nil
	}
	return s.CreateNode(ctx, &types.Node{
		StructureFamily: types.StructureFamilyContainer,
		Metadata:        map[string]any{},
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*types.Node, error) {
	var (
		id                     int64
		key                    sql.NullString
		ancestorsStr           string
		structureFamily        string
		metadataJSON, specsStr string
		accessBlobJSON         sql.NullString
		createdAt, updatedAt   time.Time
	)
	if err := row.Scan(&id, &key, &ancestorsStr, &structureFamily, &metadataJSON, &specsStr, &accessBlobJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	node := &types.Node{
		ID:              id,
		Ancestors:       decodeAncestors(ancestorsStr),
		StructureFamily: types.StructureFamily(structureFamily),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
	if key.Valid {
		node.Key = key.String
	}
	if err := json.Unmarshal([]byte(metadataJSON), &node.Metadata); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(specsStr), &node.Specs); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal specs: %w", err)
	}
	if accessBlobJSON.Valid {
		var blob types.AccessBlob
		if err := json.Unmarshal([]byte(accessBlobJSON.String), &blob); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal access_blob: %w", err)
		}
		node.AccessBlob = &blob
	}
	return node, nil
}

// LookupAdapter resolves segments relative to parent (by parent's
// own ancestors+key): prefer an exact node match; failing
// that, walk into the longest matching prefix that has a DataSource
// and delegate the remainder to the adapter's own navigation. This
// method resolves only to the Node (and, if applicable, the remaining
// unresolved segments); adapter construction from a matched
// DataSource-bearing node is the caller's responsibility (it needs
// the MIME-dispatch registry; ContainerAdapter does this).
func (s *Store) LookupAdapter(ctx context.Context, parent *types.Node, segments []string) (node *types.Node, remaining []string, err error) {
	full := append([]string(nil), parent.Ancestors...)
	if parent.Key != "" {
		full = append(full, parent.Key)
	}
	full = append(full, segments...)

	n, err := s.GetNodeByPath(ctx, full)
	if err != nil {
		return nil, nil, err
	}
	if n != nil {
		return n, nil, nil
	}

	for i := len(full) - 1; i > len(full)-len(segments)-1 && i >= 0; i-- {
		prefix := full[:i]
		if len(prefix) < len(parent.Ancestors) {
			break
		}
		candidate, err := s.GetNodeByPath(ctx, prefix)
		if err != nil {
			return nil, nil, err
		}
		if candidate != nil {
			hasDS, err := s.nodeHasDataSource(ctx, candidate.ID)
			if err != nil {
				return nil, nil, err
			}
			if hasDS {
				return candidate, full[i:], nil
			}
		}
	}
	return nil, nil, nil
}

func (s *Store) nodeHasDataSource(ctx context.Context, nodeID int64) (bool, error) {
	var count int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM data_sources WHERE node_id = ?", nodeID).Scan(&count)
	return count > 0, err
}

// Children returns the Node rows whose ancestors equal parent's
// segments, translating q into SQL pushdown where possible and
// falling back to in-memory evaluation for any clause the dialect
// could not handle.
func (s *Store) Children(ctx context.Context, parentSegments []string, q query.Query, sortKeys []SortKey, offset, limit int) ([]*types.Node, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CatalogQueryDuration, "children")

	b := &query.SQLBuilder{}
	b.And("ancestors = ?", encodeAncestors(parentSegments))

	var unresolved []query.Query
	if q != nil {
		for _, clause := range flattenQuery(q) {
			unhandled, err := s.dialect.Translate(clause, b)
			if err != nil {
				return nil, err
			}
			if unhandled {
				unresolved = append(unresolved, clause)
			}
		}
	}

	sqlText := fmt.Sprintf("SELECT id, key, ancestors, structure_family, metadata, specs, access_blob, time_created, time_updated FROM nodes WHERE %s ORDER BY time_created ASC, id ASC",
		strings.Join(b.Clauses, " AND "))

	rows, err := s.query(ctx, sqlText, b.Args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: children query: %w", err)
	}
	defer rows.Close()

	var results []*types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		if matchesUnresolved(n, unresolved) {
			results = append(results, n)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortNodes(results, sortKeys)

	return paginate(results, offset, limit), nil
}

func matchesUnresolved(n *types.Node, unresolved []query.Query) bool {
	blob := nodeAccessBlob(n)
	for _, clause := range unresolved {
		if !query.InMemory(clause, n.Key, n.Metadata, blob) {
			return false
		}
	}
	return true
}

// nodeAccessBlob adapts n's AccessBlob to the shape query.InMemory's
// AccessBlobFilter case expects, or nil if n carries none.
func nodeAccessBlob(n *types.Node) *query.NodeAccessBlob {
	if n.AccessBlob == nil {
		return nil
	}
	return &query.NodeAccessBlob{User: n.AccessBlob.User, Tags: n.AccessBlob.Tags}
}

func paginate(nodes []*types.Node, offset, limit int) []*types.Node {
	if offset >= len(nodes) {
		return nil
	}
	end := len(nodes)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return nodes[offset:end]
}

func flattenQuery(q query.Query) []query.Query {
	if and, ok := q.(query.And); ok {
		return and.Operands
	}
	return []query.Query{q}
}

// SortKey mirrors adapter.SortKey for the Store's own methods;
// ContainerAdapter converts between the two.
type SortKey struct {
	Path      string
	Direction int
}

// sortNodes orders nodes in place per keys: "" sets
// the direction applied to the (time_created, id) tiebreaker; "id"
// sorts by key; any other path is a dotted metadata path, with a
// missing value comparing as null (ordered before any present value).
// nodes must already be in (time_created, id) ascending order from
// the query that produced them, so ties after all keys are exhausted
// fall back to that order (reversed if a "" key requested direction
// -1).
func sortNodes(nodes []*types.Node, keys []SortKey) {
	tiebreakDir := 1
	var ordering []SortKey
	for _, k := range keys {
		if k.Path == "" {
			tiebreakDir = k.Direction
			continue
		}
		ordering = append(ordering, k)
	}
	if len(ordering) == 0 && tiebreakDir >= 0 {
		return
	}

	// Nodes arrive in (time_created, id) ascending order. Pair each
	// with its arrival index so a tie on every ordering key falls back
	// to that order (or its reverse, per tiebreakDir) without
	// disturbing the relative order of non-tied groups the way
	// reversing the whole slice afterward would.
	type ranked struct {
		node *types.Node
		idx  int
	}
	tmp := make([]ranked, len(nodes))
	for i, n := range nodes {
		tmp[i] = ranked{node: n, idx: i}
	}

	sort.Slice(tmp, func(i, j int) bool {
		a, b := tmp[i].node, tmp[j].node
		for _, k := range ordering {
			c := compareSortValues(sortValue(a, k.Path), sortValue(b, k.Path))
			if c == 0 {
				continue
			}
			if k.Direction < 0 {
				c = -c
			}
			return c < 0
		}
		c := tmp[i].idx - tmp[j].idx
		if tiebreakDir < 0 {
			c = -c
		}
		return c < 0
	})

	for i := range nodes {
		nodes[i] = tmp[i].node
	}
}

// sortValue extracts the value a SortKey's path selects from n: its
// Key for "id", or the dotted metadata path otherwise.
func sortValue(n *types.Node, path string) any {
	if path == "id" {
		return n.Key
	}
	var cur any = n.Metadata
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// compareSortValues orders a nil (missing/unknown path) before any
// non-nil value, and otherwise compares within the type families
// metadata values actually take (string, bool, float64/JSON numbers,
// or falls back to a string rendering for mixed/unorderable types).
func compareSortValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0
			}
			if !av && bv {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

// Len returns the count of children of parentSegments matching q.
func (s *Store) Len(ctx context.Context, parentSegments []string, q query.Query) (int64, error) {
	nodes, err := s.Children(ctx, parentSegments, q, nil, 0, -1)
	if err != nil {
		return 0, err
	}
	return int64(len(nodes)), nil
}

// CreateDataSource inserts ds for nodeID and any Assets it carries,
// returning the assigned data source id.
func (s *Store) CreateDataSource(ctx context.Context, nodeID int64, ds *types.DataSource) (int64, error) {
	structureJSON, err := json.Marshal(ds.Structure)
	if err != nil {
		return 0, err
	}
	parametersJSON, err := json.Marshal(ds.Parameters)
	if err != nil {
		return 0, err
	}
	res, err := s.exec(ctx,
		`INSERT INTO data_sources (node_id, mimetype, structure, parameters, management) VALUES (?, ?, ?, ?, ?)`,
		nodeID, ds.MimeType, string(structureJSON), string(parametersJSON), string(ds.Management))
	if err != nil {
		return 0, fmt.Errorf("catalog: insert data_source: %w", err)
	}
	dsID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, asset := range ds.Assets {
		if _, err := s.exec(ctx, `INSERT INTO assets (data_source_id, data_uri, is_directory) VALUES (?, ?, ?)`,
			dsID, asset.DataURI, asset.IsDirectory); err != nil {
			return 0, fmt.Errorf("catalog: insert asset: %w", err)
		}
	}
	return dsID, nil
}

// DataSourcesForNode returns every DataSource (with its Assets)
// recorded for nodeID.
func (s *Store) DataSourcesForNode(ctx context.Context, nodeID int64) ([]*types.DataSource, error) {
	rows, err := s.query(ctx, `SELECT id, mimetype, structure, parameters, management FROM data_sources WHERE node_id = ?`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.DataSource
	for rows.Next() {
		var (
			id                        int64
			mimetype, management      string
			structureJSON, paramsJSON string
		)
		if err := rows.Scan(&id, &mimetype, &structureJSON, &paramsJSON, &management); err != nil {
			return nil, err
		}
		ds := &types.DataSource{ID: id, NodeID: nodeID, MimeType: mimetype, Management: types.DataManagement(management)}
		if err := json.Unmarshal([]byte(structureJSON), &ds.Structure); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(paramsJSON), &ds.Parameters); err != nil {
			return nil, err
		}
		assets, err := s.assetsForDataSource(ctx, id)
		if err != nil {
			return nil, err
		}
		ds.Assets = assets
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (s *Store) assetsForDataSource(ctx context.Context, dsID int64) ([]types.Asset, error) {
	rows, err := s.query(ctx, `SELECT id, data_uri, is_directory FROM assets WHERE data_source_id = ?`, dsID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Asset
	for rows.Next() {
		var a types.Asset
		if err := rows.Scan(&a.ID, &a.DataURI, &a.IsDirectory); err != nil {
			return nil, err
		}
		a.DataSourceID = dsID
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes a single leaf node, refusing (apierr.Conflict) if
// children exist. Internally-managed assets are not touched here; the
// caller removes them from disk after this returns. The row deletion
// is rolled back if the affected row count is not exactly 1.
func (s *Store) Delete(ctx context.Context, nodeID int64) error {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node == nil {
		return apierr.NotFound("catalog: node not found")
	}

	childSegments := append(append([]string(nil), node.Ancestors...), node.Key)
	var childCount int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM nodes WHERE ancestors = ?", encodeAncestors(childSegments)).Scan(&childCount); err != nil {
		return err
	}
	if childCount > 0 {
		return apierr.Conflict("catalog: node has children, delete them first or use delete_tree")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dsRows, err := tx.QueryContext(ctx, s.dialect.Rebind("SELECT id FROM data_sources WHERE node_id = ?"), nodeID)
	if err != nil {
		return err
	}
	var dsIDs []int64
	for dsRows.Next() {
		var id int64
		if err := dsRows.Scan(&id); err != nil {
			dsRows.Close()
			return err
		}
		dsIDs = append(dsIDs, id)
	}
	dsRows.Close()

	for _, dsID := range dsIDs {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind("DELETE FROM assets WHERE data_source_id = ?"), dsID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind("DELETE FROM data_sources WHERE node_id = ?"), nodeID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, s.dialect.Rebind("DELETE FROM nodes WHERE id = ?"), nodeID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("catalog: delete node %d affected %d rows, expected 1", nodeID, affected)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.NodesTotal.Dec()
	return nil
}

// WouldDeleteExternalOnlyViolation reports whether deleting the
// subtree rooted at nodeID would remove any internally-managed
// (writable) asset, for delete_tree's external_only guard.
func (s *Store) WouldDeleteExternalOnlyViolation(ctx context.Context, nodeID int64) (bool, error) {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil || node == nil {
		return false, err
	}
	ds, err := s.DataSourcesForNode(ctx, nodeID)
	if err != nil {
		return false, err
	}
	for _, d := range ds {
		if d.Management == types.ManagementWritable {
			return true, nil
		}
	}

	childSegments := append(append([]string(nil), node.Ancestors...), node.Key)
	children, err := s.Children(ctx, childSegments, nil, nil, 0, -1)
	if err != nil {
		return false, err
	}
	for _, c := range children {
		violates, err := s.WouldDeleteExternalOnlyViolation(ctx, c.ID)
		if err != nil {
			return false, err
		}
		if violates {
			return true, nil
		}
	}
	return false, nil
}

// DeleteTree removes nodeID and its entire subtree. If externalOnly
// is true (the default) and any internally-managed
// asset would be removed, the operation is refused with
// apierr.WouldDeleteData and nothing is deleted.
func (s *Store) DeleteTree(ctx context.Context, nodeID int64, externalOnly bool) error {
	if externalOnly {
		violates, err := s.WouldDeleteExternalOnlyViolation(ctx, nodeID)
		if err != nil {
			return err
		}
		if violates {
			return apierr.WouldDeleteData("catalog: subtree contains internally-managed data; pass external_only=false to remove it")
		}
	}
	return s.deleteTreeRecursive(ctx, nodeID)
}

func (s *Store) deleteTreeRecursive(ctx context.Context, nodeID int64) error {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil || node == nil {
		return err
	}
	childSegments := append(append([]string(nil), node.Ancestors...), node.Key)
	children, err := s.Children(ctx, childSegments, nil, nil, 0, -1)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := s.deleteTreeRecursive(ctx, c.ID); err != nil {
			return err
		}
	}
	return s.forceDelete(ctx, nodeID)
}

// forceDelete removes a node regardless of remaining children (all
// children have already been removed by the caller's recursion).
func (s *Store) forceDelete(ctx context.Context, nodeID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.Rebind("DELETE FROM assets WHERE data_source_id IN (SELECT id FROM data_sources WHERE node_id = ?)"), nodeID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind("DELETE FROM data_sources WHERE node_id = ?"), nodeID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind("DELETE FROM nodes WHERE id = ?"), nodeID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.NodesTotal.Dec()
	return nil
}

// UpdateMetadata writes a Revision row mirroring the node's current
// metadata/specs, then overwrites the node row, as one atomic
// transaction. Returns the new revision number.
func (s *Store) UpdateMetadata(ctx context.Context, nodeID int64, metadata map[string]any, specs []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var curMetadataJSON, curSpecsJSON string
	row := tx.QueryRowContext(ctx, s.dialect.Rebind("SELECT metadata, specs FROM nodes WHERE id = ?"), nodeID)
	if err := row.Scan(&curMetadataJSON, &curSpecsJSON); err != nil {
		return 0, err
	}

	var maxNumber int
	_ = tx.QueryRowContext(ctx, s.dialect.Rebind("SELECT COALESCE(MAX(number), 0) FROM revisions WHERE node_id = ?"), nodeID).Scan(&maxNumber)
	nextNumber := maxNumber + 1

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind("INSERT INTO revisions (node_id, number, metadata, specs, time_created) VALUES (?, ?, ?, ?, ?)"),
		nodeID, nextNumber, curMetadataJSON, curSpecsJSON, now); err != nil {
		return 0, err
	}

	newMetadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, err
	}
	newSpecsJSON, err := json.Marshal(specs)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind("UPDATE nodes SET metadata = ?, specs = ?, time_updated = ? WHERE id = ?"),
		string(newMetadataJSON), string(newSpecsJSON), now, nodeID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return nextNumber, nil
}

// Revisions returns all Revision rows for nodeID, newest first.
func (s *Store) Revisions(ctx context.Context, nodeID int64) ([]*types.Revision, error) {
	rows, err := s.query(ctx, "SELECT id, number, metadata, specs, time_created FROM revisions WHERE node_id = ? ORDER BY number DESC", nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Revision
	for rows.Next() {
		r := &types.Revision{NodeID: nodeID}
		var metadataJSON, specsJSON string
		if err := rows.Scan(&r.ID, &r.Number, &metadataJSON, &specsJSON, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metadataJSON), &r.Metadata); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(specsJSON), &r.Specs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRevision removes one explicit revision row by number.
func (s *Store) DeleteRevision(ctx context.Context, nodeID int64, number int) error {
	res, err := s.exec(ctx, "DELETE FROM revisions WHERE node_id = ? AND number = ?", nodeID, number)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierr.NotFound(fmt.Sprintf("catalog: revision %d not found for node %d", number, nodeID))
	}
	return nil
}

// Distinct aggregates distinct values (and, if withCounts, their
// occurrence counts) of the given metadata dotted paths among the
// children of parentSegments matching q, for faceted search.
func (s *Store) Distinct(ctx context.Context, parentSegments []string, q query.Query, paths [][]string, withCounts bool) (map[string][]DistinctValue, error) {
	nodes, err := s.Children(ctx, parentSegments, q, nil, 0, -1)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]DistinctValue, len(paths))
	for _, path := range paths {
		counts := make(map[string]int)
		order := make([]string, 0)
		for _, n := range nodes {
			val := metadataAt(n.Metadata, path)
			if val == nil {
				continue
			}
			key := fmt.Sprintf("%v", val)
			if _, seen := counts[key]; !seen {
				order = append(order, key)
			}
			counts[key]++
		}
		label := strings.Join(path, ".")
		values := make([]DistinctValue, 0, len(order))
		for _, k := range order {
			dv := DistinctValue{Value: k}
			if withCounts {
				dv.Count = counts[k]
			}
			values = append(values, dv)
		}
		out[label] = values
	}
	return out, nil
}

// DistinctValue is one facet value and its optional occurrence count.
type DistinctValue struct {
	Value string
	Count int
}

func metadataAt(metadata map[string]any, path []string) any {
	var cur any = metadata
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// WritableDataURI computes the on-disk path for a writable DataSource
// created under writableRoot at the given node path:
// writable_storage + url-encoded segments + "/" + key.
func WritableDataURI(writableRoot string, segments []string) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = urlEncodeSegment(seg)
	}
	return strings.TrimRight(writableRoot, "/") + "/" + strings.Join(parts, "/")
}

// UpdateAccessBlob overwrites a node's access_blob in place. Access
// changes are not revisioned: Revision history mirrors metadata and
// specs only, and concurrent modifiers race last-writer-wins at the
// row.
func (s *Store) UpdateAccessBlob(ctx context.Context, nodeID int64, blob *types.AccessBlob) error {
	var blobJSON any
	if !blob.IsEmpty() {
		b, err := json.Marshal(blob)
		if err != nil {
			return fmt.Errorf("catalog: marshal access_blob: %w", err)
		}
		blobJSON = string(b)
	}
	res, err := s.exec(ctx, "UPDATE nodes SET access_blob = ?, time_updated = ? WHERE id = ?",
		blobJSON, time.Now().UTC(), nodeID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierr.NotFound("catalog: node not found")
	}
	return nil
}

// WritableAssetsInTree returns every asset belonging to an
// internally-managed (writable) DataSource in the subtree rooted at
// nodeID, inclusive. Callers removing a subtree with
// external_only=false use this to take the files down alongside the
// rows.
func (s *Store) WritableAssetsInTree(ctx context.Context, nodeID int64) ([]types.Asset, error) {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil || node == nil {
		return nil, err
	}

	var out []types.Asset
	dataSources, err := s.DataSourcesForNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	for _, ds := range dataSources {
		if ds.Management == types.ManagementWritable {
			out = append(out, ds.Assets...)
		}
	}

	childSegments := append(append([]string(nil), node.Ancestors...), node.Key)
	children, err := s.Children(ctx, childSegments, nil, nil, 0, -1)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		childAssets, err := s.WritableAssetsInTree(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, childAssets...)
	}
	return out, nil
}

// DistinctStructureFamilies aggregates the distinct structure_family
// values among the children of parentSegments matching q.
func (s *Store) DistinctStructureFamilies(ctx context.Context, parentSegments []string, q query.Query, withCounts bool) ([]DistinctValue, error) {
	nodes, err := s.Children(ctx, parentSegments, q, nil, 0, -1)
	if err != nil {
		return nil, err
	}
	return tally(nodes, withCounts, func(n *types.Node) []string {
		return []string{string(n.StructureFamily)}
	}), nil
}

// DistinctSpecs aggregates the distinct spec names among the children
// of parentSegments matching q.
func (s *Store) DistinctSpecs(ctx context.Context, parentSegments []string, q query.Query, withCounts bool) ([]DistinctValue, error) {
	nodes, err := s.Children(ctx, parentSegments, q, nil, 0, -1)
	if err != nil {
		return nil, err
	}
	return tally(nodes, withCounts, func(n *types.Node) []string {
		return n.Specs
	}), nil
}

// tally counts value occurrences across nodes in first-seen order.
func tally(nodes []*types.Node, withCounts bool, valuesOf func(*types.Node) []string) []DistinctValue {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, n := range nodes {
		for _, v := range valuesOf(n) {
			if _, seen := counts[v]; !seen {
				order = append(order, v)
			}
			counts[v]++
		}
	}
	out := make([]DistinctValue, 0, len(order))
	for _, v := range order {
		dv := DistinctValue{Value: v}
		if withCounts {
			dv.Count = counts[v]
		}
		out = append(out, dv)
	}
	return out
}

func urlEncodeSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteString("%")
			b.WriteString(strconv.FormatInt(int64(r), 16))
		}
	}
	return b.String()
}
