package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"tradeloop/internal/logger"
)

// 中文说明：
// 审计库是只追加的流水：每循环每标的一条决策记录，每次成交一条
// 交易记录。控制回路不依赖这里的读路径，写失败只告警不中断循环。

// CycleRecord 单标的单循环的完整审计记录。
type CycleRecord struct {
	ID          int64    `json:"id"`
	CycleID     string   `json:"cycle_id"`
	Symbol      string   `json:"symbol"`
	Action      string   `json:"action"`
	Confidence  float64  `json:"confidence"`
	Source      string   `json:"source"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Approved    bool     `json:"approved"`
	VetoReason  string   `json:"veto_reason,omitempty"`
	Corrections []string `json:"corrections,omitempty"`
	Outcome     string   `json:"outcome"` // executed / discarded / execution_failed / noop
	Detail      string   `json:"detail,omitempty"`
	CreatedAt   int64    `json:"created_at"` // Unix 毫秒
}

// TradeRecord 一次实际成交。
type TradeRecord struct {
	ID        int64   `json:"id"`
	CycleID   string  `json:"cycle_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Action    string  `json:"action"` // open / close
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	PnL       float64 `json:"pnl"`
	OrderID   string  `json:"order_id,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// AuditStore sqlite 审计存储。
type AuditStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenAuditStore 打开（必要时创建）审计库并执行迁移。
func OpenAuditStore(path string) (*AuditStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("审计库路径不能为空")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开审计库失败: %w", err)
	}
	// 单写多读即可，限制连接数避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)
	s := &AuditStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *AuditStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

func (s *AuditStore) conn() (*sql.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("audit store 未初始化")
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("audit store 已关闭")
	}
	return db, nil
}

// InsertCycleRecord 写入一条决策审计记录。
func (s *AuditStore) InsertCycleRecord(ctx context.Context, rec CycleRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	corrections := ""
	if len(rec.Corrections) > 0 {
		b, _ := json.Marshal(rec.Corrections)
		corrections = string(b)
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO cycle_records
            (cycle_id, symbol, action, confidence, source, reasoning,
             approved, veto_reason, corrections, outcome, detail, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CycleID, strings.ToUpper(strings.TrimSpace(rec.Symbol)), rec.Action, rec.Confidence,
		rec.Source, rec.Reasoning, boolToInt(rec.Approved), rec.VetoReason,
		corrections, rec.Outcome, rec.Detail, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("写入决策审计失败: %w", err)
	}
	return nil
}

// InsertTrade 写入一条成交记录。
func (s *AuditStore) InsertTrade(ctx context.Context, tr TradeRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if tr.CreatedAt == 0 {
		tr.CreatedAt = time.Now().UnixMilli()
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO trades
            (cycle_id, symbol, side, action, quantity, price, pnl, order_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.CycleID, strings.ToUpper(strings.TrimSpace(tr.Symbol)), tr.Side, tr.Action,
		tr.Quantity, tr.Price, tr.PnL, tr.OrderID, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("写入成交记录失败: %w", err)
	}
	return nil
}

// RecentCycleRecords 按时间倒序取最近的决策审计记录。
func (s *AuditStore) RecentCycleRecords(ctx context.Context, limit int) ([]CycleRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
        SELECT id, cycle_id, symbol, action, confidence, source, reasoning,
               approved, veto_reason, corrections, outcome, detail, created_at
        FROM cycle_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var out []CycleRecord
	for rows.Next() {
		var (
			rec         CycleRecord
			approved    int
			corrections string
		)
		if err := rows.Scan(&rec.ID, &rec.CycleID, &rec.Symbol, &rec.Action, &rec.Confidence,
			&rec.Source, &rec.Reasoning, &approved, &rec.VetoReason, &corrections,
			&rec.Outcome, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Approved = approved != 0
		if corrections != "" {
			_ = json.Unmarshal([]byte(corrections), &rec.Corrections)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentTrades 按时间倒序取最近成交；symbol 为空表示不过滤。
func (s *AuditStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `
        SELECT id, cycle_id, symbol, side, action, quantity, price, pnl, order_id, created_at
        FROM trades`
	args := []any{}
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query += " WHERE symbol = ?"
		args = append(args, sym)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var out []TradeRecord
	for rows.Next() {
		var tr TradeRecord
		if err := rows.Scan(&tr.ID, &tr.CycleID, &tr.Symbol, &tr.Side, &tr.Action,
			&tr.Quantity, &tr.Price, &tr.PnL, &tr.OrderID, &tr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.Debugf("关闭查询结果失败: %v", err)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
