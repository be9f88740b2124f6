package records

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 使用 MySQL 保存调用记录，启动时自动执行嵌入的迁移。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 连接数据库并执行迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &MySQLStore{db: db}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

// Save 将调用记录写入 tool_calls 表。
func (s *MySQLStore) Save(ctx context.Context, record Record) error {
	const stmt = `INSERT INTO tool_calls
        (id, tool, args, output, error_code, error_message, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Tool,
		nullableJSON(record.Args),
		nullableJSON(record.Output),
		record.ErrorCode,
		record.Error,
		record.StartedAt.UTC().UnixMilli(),
		record.FinishedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条调用记录。
func (s *MySQLStore) ListLatest(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, tool, args, output, error_code, error_message, started_at, finished_at
        FROM tool_calls ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询调用记录失败: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			record            Record
			args, output      sql.NullString
			started, finished int64
		)
		if err := rows.Scan(&record.ID, &record.Tool, &args, &output, &record.ErrorCode, &record.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("解析调用记录失败: %w", err)
		}
		if args.Valid {
			record.Args = []byte(args.String)
		}
		if output.Valid {
			record.Output = []byte(output.String)
		}
		record.StartedAt = time.UnixMilli(started).UTC()
		record.FinishedAt = time.UnixMilli(finished).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历调用记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
