package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/craftbot/gofleet/internal/domain"
)

// SQLStore sqlite 存储
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore 打开（必要时创建）sqlite 数据库并执行建表
func NewSQLStore(dbPath string) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS bots (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  health INTEGER,
  pos_x INTEGER,
  pos_y INTEGER,
  pos_z INTEGER,
  current_action TEXT NOT NULL DEFAULT '',
  is_registered INTEGER NOT NULL DEFAULT 0,
  uptime_anchor TEXT,
  last_seen TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS fleet_config (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  host TEXT NOT NULL,
  port INTEGER NOT NULL,
  password TEXT NOT NULL DEFAULT '',
  follow_target TEXT NOT NULL DEFAULT '',
  auto_reconnect INTEGER NOT NULL,
  reconnect_delay INTEGER NOT NULL,
  auto_register INTEGER NOT NULL,
  auto_login INTEGER NOT NULL,
  protocol_version TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS ai_config (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  model TEXT NOT NULL,
  listen_user TEXT NOT NULL DEFAULT '',
  enabled INTEGER NOT NULL,
  auto_response INTEGER NOT NULL,
  total_requests INTEGER NOT NULL DEFAULT 0,
  commands_parsed INTEGER NOT NULL DEFAULT 0,
  avg_response_time INTEGER NOT NULL DEFAULT 0,
  success_rate INTEGER NOT NULL DEFAULT 100,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS logs (
  id TEXT PRIMARY KEY,
  level TEXT NOT NULL,
  message TEXT NOT NULL,
  bot_id TEXT,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_logs_ts ON logs(ts);`,
		`
CREATE TABLE IF NOT EXISTS chat_messages (
  id TEXT PRIMARY KEY,
  author TEXT NOT NULL,
  content TEXT NOT NULL,
  is_bot INTEGER NOT NULL,
  bot_id TEXT,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_ts ON chat_messages(ts);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLStore) CreateBot(ctx context.Context, rec *domain.BotRecord) (*domain.BotRecord, error) {
	cp := *rec
	if cp.ID == "" {
		cp.ID = newID()
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.LastSeen.IsZero() {
		cp.LastSeen = now
	}
	if cp.Status == "" {
		cp.Status = domain.StatusOffline
	}

	var posX, posY, posZ, health sql.NullInt64
	if cp.Health != nil {
		health = sql.NullInt64{Int64: int64(*cp.Health), Valid: true}
	}
	if cp.Position != nil {
		posX = sql.NullInt64{Int64: int64(cp.Position.X), Valid: true}
		posY = sql.NullInt64{Int64: int64(cp.Position.Y), Valid: true}
		posZ = sql.NullInt64{Int64: int64(cp.Position.Z), Valid: true}
	}
	var anchor sql.NullString
	if cp.UptimeAnchor != nil {
		anchor = sql.NullString{String: cp.UptimeAnchor.Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO bots (id,name,status,health,pos_x,pos_y,pos_z,current_action,is_registered,uptime_anchor,last_seen,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, cp.ID, cp.Name, string(cp.Status), health, posX, posY, posZ, cp.CurrentAction, boolToInt(cp.IsRegistered),
		anchor, cp.LastSeen.Format(time.RFC3339Nano), cp.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert bot: %w", err)
	}
	return &cp, nil
}

const botColumns = `id,name,status,health,pos_x,pos_y,pos_z,current_action,is_registered,uptime_anchor,last_seen,created_at`

func scanBot(row interface{ Scan(dest ...any) error }) (*domain.BotRecord, error) {
	var b domain.BotRecord
	var status string
	var health, posX, posY, posZ sql.NullInt64
	var isRegistered int
	var anchor sql.NullString
	var lastSeen, createdAt string
	if err := row.Scan(&b.ID, &b.Name, &status, &health, &posX, &posY, &posZ, &b.CurrentAction, &isRegistered, &anchor, &lastSeen, &createdAt); err != nil {
		return nil, err
	}
	b.Status = domain.BotStatus(status)
	if health.Valid {
		v := int(health.Int64)
		b.Health = &v
	}
	if posX.Valid && posY.Valid && posZ.Valid {
		b.Position = &domain.Position{X: int(posX.Int64), Y: int(posY.Int64), Z: int(posZ.Int64)}
	}
	b.IsRegistered = isRegistered == 1
	if anchor.Valid {
		if t, err := time.Parse(time.RFC3339Nano, anchor.String); err == nil {
			b.UptimeAnchor = &t
		}
	}
	b.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &b, nil
}

func (s *SQLStore) GetBot(ctx context.Context, id string) (*domain.BotRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id=?`, id)
	b, err := scanBot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *SQLStore) GetBotByName(ctx context.Context, name string) (*domain.BotRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE name=?`, name)
	b, err := scanBot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *SQLStore) ListBots(ctx context.Context) ([]*domain.BotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.BotRecord
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateBot(ctx context.Context, id string, upd domain.BotUpdate) (*domain.BotRecord, error) {
	// 读-改-写足够了，单连接下没有并发写
	rec, err := s.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	applyBotUpdate(rec, upd)
	rec.LastSeen = time.Now()

	var posX, posY, posZ, health sql.NullInt64
	if rec.Health != nil {
		health = sql.NullInt64{Int64: int64(*rec.Health), Valid: true}
	}
	if rec.Position != nil {
		posX = sql.NullInt64{Int64: int64(rec.Position.X), Valid: true}
		posY = sql.NullInt64{Int64: int64(rec.Position.Y), Valid: true}
		posZ = sql.NullInt64{Int64: int64(rec.Position.Z), Valid: true}
	}
	var anchor sql.NullString
	if rec.UptimeAnchor != nil {
		anchor = sql.NullString{String: rec.UptimeAnchor.Format(time.RFC3339Nano), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE bots
SET name=?, status=?, health=?, pos_x=?, pos_y=?, pos_z=?, current_action=?, is_registered=?, uptime_anchor=?, last_seen=?
WHERE id=?
`, rec.Name, string(rec.Status), health, posX, posY, posZ, rec.CurrentAction, boolToInt(rec.IsRegistered),
		anchor, rec.LastSeen.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("update bot: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) DeleteBot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetFleetConfig(ctx context.Context) (*domain.FleetConfig, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT host,port,password,follow_target,auto_reconnect,reconnect_delay,auto_register,auto_login,protocol_version,updated_at
FROM fleet_config WHERE id=1
`)
	var cfg domain.FleetConfig
	var autoReconnect, autoRegister, autoLogin int
	var updatedAt string
	if err := row.Scan(&cfg.Host, &cfg.Port, &cfg.Password, &cfg.FollowTarget, &autoReconnect, &cfg.ReconnectDelay, &autoRegister, &autoLogin, &cfg.ProtocolVersion, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultFleetConfig(), nil
		}
		return nil, err
	}
	cfg.AutoReconnect = autoReconnect == 1
	cfg.AutoRegister = autoRegister == 1
	cfg.AutoLogin = autoLogin == 1
	cfg.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &cfg, nil
}

func (s *SQLStore) SetFleetConfig(ctx context.Context, cfg *domain.FleetConfig) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO fleet_config (id,host,port,password,follow_target,auto_reconnect,reconnect_delay,auto_register,auto_login,protocol_version,updated_at)
VALUES (1,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  host=excluded.host, port=excluded.port, password=excluded.password,
  follow_target=excluded.follow_target, auto_reconnect=excluded.auto_reconnect,
  reconnect_delay=excluded.reconnect_delay, auto_register=excluded.auto_register,
  auto_login=excluded.auto_login, protocol_version=excluded.protocol_version,
  updated_at=excluded.updated_at
`, cfg.Host, cfg.Port, cfg.Password, cfg.FollowTarget, boolToInt(cfg.AutoReconnect), cfg.ReconnectDelay,
		boolToInt(cfg.AutoRegister), boolToInt(cfg.AutoLogin), cfg.ProtocolVersion, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set fleet config: %w", err)
	}
	cfg.UpdatedAt = now
	return nil
}

func (s *SQLStore) GetAiConfig(ctx context.Context) (*domain.AiConfig, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT model,listen_user,enabled,auto_response,total_requests,commands_parsed,avg_response_time,success_rate,updated_at
FROM ai_config WHERE id=1
`)
	var cfg domain.AiConfig
	var enabled, autoResponse int
	var updatedAt string
	if err := row.Scan(&cfg.Model, &cfg.ListenUser, &enabled, &autoResponse, &cfg.TotalRequests, &cfg.CommandsParsed, &cfg.AvgResponseTime, &cfg.SuccessRate, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultAiConfig(), nil
		}
		return nil, err
	}
	cfg.Enabled = enabled == 1
	cfg.AutoResponse = autoResponse == 1
	cfg.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &cfg, nil
}

func (s *SQLStore) SetAiConfig(ctx context.Context, cfg *domain.AiConfig) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ai_config (id,model,listen_user,enabled,auto_response,total_requests,commands_parsed,avg_response_time,success_rate,updated_at)
VALUES (1,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  model=excluded.model, listen_user=excluded.listen_user, enabled=excluded.enabled,
  auto_response=excluded.auto_response, total_requests=excluded.total_requests,
  commands_parsed=excluded.commands_parsed, avg_response_time=excluded.avg_response_time,
  success_rate=excluded.success_rate, updated_at=excluded.updated_at
`, cfg.Model, cfg.ListenUser, boolToInt(cfg.Enabled), boolToInt(cfg.AutoResponse),
		cfg.TotalRequests, cfg.CommandsParsed, cfg.AvgResponseTime, cfg.SuccessRate, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set ai config: %w", err)
	}
	cfg.UpdatedAt = now
	return nil
}

func (s *SQLStore) UpdateAiConfig(ctx context.Context, upd domain.AiConfigUpdate) (*domain.AiConfig, error) {
	cfg, err := s.GetAiConfig(ctx)
	if err != nil {
		return nil, err
	}
	applyAiUpdate(cfg, upd)
	if err := s.SetAiConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *SQLStore) AddLog(ctx context.Context, level domain.LogLevel, message string, botID *string) (*domain.LogEntry, error) {
	entry := &domain.LogEntry{
		ID:        newID(),
		Level:     level,
		Message:   message,
		BotID:     botID,
		Timestamp: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO logs (id,level,message,bot_id,ts) VALUES (?,?,?,?,?)`,
		entry.ID, string(entry.Level), entry.Message, entry.BotID, entry.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert log: %w", err)
	}
	// 裁剪到上限
	_, _ = s.db.ExecContext(ctx, `
DELETE FROM logs WHERE id NOT IN (SELECT id FROM logs ORDER BY ts DESC LIMIT ?)
`, MaxLogEntries)
	return entry, nil
}

func (s *SQLStore) ListLogs(ctx context.Context, limit int) ([]*domain.LogEntry, error) {
	if limit <= 0 || limit > MaxLogEntries {
		limit = MaxLogEntries
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,level,message,bot_id,ts FROM (
  SELECT id,level,message,bot_id,ts FROM logs ORDER BY ts DESC LIMIT ?
) ORDER BY ts ASC
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var level string
		var botID sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &level, &e.Message, &botID, &ts); err != nil {
			return nil, err
		}
		e.Level = domain.LogLevel(level)
		if botID.Valid {
			v := botID.String
			e.BotID = &v
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLStore) ClearLogs(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM logs`)
	return err
}

func (s *SQLStore) AddChat(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	cp := *msg
	if cp.ID == "" {
		cp.ID = newID()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_messages (id,author,content,is_bot,bot_id,ts) VALUES (?,?,?,?,?,?)`,
		cp.ID, cp.Author, cp.Content, boolToInt(cp.IsBot), cp.BotID, cp.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `
DELETE FROM chat_messages WHERE id NOT IN (SELECT id FROM chat_messages ORDER BY ts DESC LIMIT ?)
`, MaxChatMessages)
	return &cp, nil
}

func (s *SQLStore) ListChat(ctx context.Context, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 || limit > MaxChatMessages {
		limit = MaxChatMessages
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,author,content,is_bot,bot_id,ts FROM (
  SELECT id,author,content,is_bot,bot_id,ts FROM chat_messages ORDER BY ts DESC LIMIT ?
) ORDER BY ts ASC
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var isBot int
		var botID sql.NullString
		var ts string
		if err := rows.Scan(&m.ID, &m.Author, &m.Content, &isBot, &botID, &ts); err != nil {
			return nil, err
		}
		m.IsBot = isBot == 1
		if botID.Valid {
			v := botID.String
			m.BotID = &v
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
