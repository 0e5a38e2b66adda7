package sqlstore

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ApplyDDL выполняет операторы GenerateDDL в порядке ключей. DDL идемпотентен
// (if not exists); повторное добавление FK в postgres (42710) пропускается.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string) error {
	log := zerolog.Ctx(ctx)

	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "42710" {
				log.Debug().Str("key", k).Str("constraint", pgErr.ConstraintName).Msg("ddl skipped: already exists")
				continue
			}
			if e := strings.ToLower(err.Error()); strings.Contains(e, "already exists") || strings.Contains(e, "duplicate") {
				log.Debug().Str("key", k).Err(err).Msg("ddl skipped: already exists")
				continue
			}
			return errors.Wrapf(err, "apply ddl %s", k)
		}
		log.Debug().Str("key", k).Msg("ddl applied")
	}
	return nil
}
