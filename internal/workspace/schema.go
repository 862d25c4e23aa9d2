// internal/workspace/schema.go
package workspace

import (
	"context"
	"log/slog"

	custom_errors "repo-grader/internal/errors"
	"repo-grader/internal/model"
)

// Column names written by the sync engine.
const (
	ColRepositoryName     = "Repository Name"
	ColGitHubURL          = "GitHub URL"
	ColGradedAt           = "Graded At"
	ColSummary            = "Summary"
	ColFeedback           = "Feedback"
	ColError              = "Error"
	ColBrowserConducted   = "Browser Test Conducted"
	ColBrowserURL         = "Browser Test URL"
	ColBrowserSuccess     = "Browser Test Success"
	ColBrowserDuration    = "Browser Test Duration (s)"
	ColBrowserActions     = "Browser Action Count"
	ColBrowserScreenshots = "Screenshot Count"
	ColBrowserErrors      = "Browser Test Errors"
	ColBrowserPageTitle   = "Page Title"
)

// SchemaClient is the slice of the workspace API the schema manager needs.
type SchemaClient interface {
	GetSchema(ctx context.Context, databaseID string) (Schema, error)
	AddColumns(ctx context.Context, databaseID string, columns Schema) error
}

// SchemaManager reconciles a workspace database's columns with the set the
// sync engine will write for a given processing mode.
type SchemaManager struct {
	client SchemaClient
	logger *slog.Logger
}

// NewSchemaManager creates a SchemaManager.
func NewSchemaManager(client SchemaClient, logger *slog.Logger) *SchemaManager {
	return &SchemaManager{client: client, logger: logger}
}

// RequiredSchema returns the columns a database must have for the given mode.
// A title column is only required when the database has none yet, since a
// database carries exactly one title column. The URL column can be skipped
// when the caller already tracks repository URLs elsewhere.
func RequiredSchema(mode model.ProcessingMode, hasExistingTitle, skipURLColumn bool) Schema {
	schema := Schema{
		ColGradedAt: TypeDate,
	}
	if !hasExistingTitle {
		schema[ColRepositoryName] = TypeTitle
	}
	if !skipURLColumn {
		schema[ColGitHubURL] = TypeURL
	}
	if mode.IncludesCode() {
		schema[ColSummary] = TypeRichText
		schema[ColFeedback] = TypeRichText
		schema[ColError] = TypeRichText
	}
	if mode.IncludesBrowser() {
		schema[ColBrowserConducted] = TypeCheckbox
		schema[ColBrowserURL] = TypeURL
		schema[ColBrowserSuccess] = TypeCheckbox
		schema[ColBrowserDuration] = TypeNumber
		schema[ColBrowserActions] = TypeNumber
		schema[ColBrowserScreenshots] = TypeNumber
		schema[ColBrowserErrors] = TypeRichText
		schema[ColBrowserPageTitle] = TypeRichText
	}
	return schema
}

// Diff returns the required columns missing from the existing schema. A
// column that exists under the right name satisfies the requirement
// regardless of its declared type; renaming or retyping user columns is out
// of scope.
func Diff(existing, required Schema) Schema {
	missing := Schema{}
	for name, typ := range required {
		if _, ok := existing[name]; !ok {
			missing[name] = typ
		}
	}
	return missing
}

// Migrate adds all missing columns in a single schema-update call. An empty
// diff is a no-op, which makes repeated migration idempotent.
func (m *SchemaManager) Migrate(ctx context.Context, databaseID string, missing Schema) error {
	if len(missing) == 0 {
		m.logger.Debug("Schema already up to date", "database_id", databaseID)
		return nil
	}

	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	m.logger.Info("Migrating workspace schema", "database_id", databaseID, "columns", names)

	if err := m.client.AddColumns(ctx, databaseID, missing); err != nil {
		return &custom_errors.SchemaMigrationError{DatabaseID: databaseID, Err: err}
	}
	return nil
}

// EnsureSchema inspects the live database and applies whatever migration the
// given mode requires. It returns the up-to-date schema so callers can learn
// the database's title column.
func (m *SchemaManager) EnsureSchema(ctx context.Context, databaseID string, mode model.ProcessingMode, skipURLColumn bool) (Schema, error) {
	existing, err := m.client.GetSchema(ctx, databaseID)
	if err != nil {
		return nil, &custom_errors.SchemaMigrationError{DatabaseID: databaseID, Err: err}
	}

	hasTitle := false
	for _, typ := range existing {
		if typ == TypeTitle {
			hasTitle = true
			break
		}
	}

	required := RequiredSchema(mode, hasTitle, skipURLColumn)
	missing := Diff(existing, required)
	if err := m.Migrate(ctx, databaseID, missing); err != nil {
		return nil, err
	}

	for name, typ := range missing {
		existing[name] = typ
	}
	return existing, nil
}

// TitleColumn returns the name of the schema's title column, or the default
// repository-name column when none is present.
func (s Schema) TitleColumn() string {
	for name, typ := range s {
		if typ == TypeTitle {
			return name
		}
	}
	return ColRepositoryName
}

// URLColumn returns the column conflict matching keys on: the default GitHub
// URL column when present, otherwise the database's own url-type column. The
// browser-test URL column never identifies a repository.
func (s Schema) URLColumn() string {
	if _, ok := s[ColGitHubURL]; ok {
		return ColGitHubURL
	}
	for name, typ := range s {
		if typ == TypeURL && name != ColBrowserURL {
			return name
		}
	}
	return ColGitHubURL
}
