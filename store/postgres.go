package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/role"
)

const uniqueViolation = "23505"

// Postgres implements Store on top of database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", model.ErrPersistence, err)
	}
	return nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrPersistence, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const participantCols = `twitch_id, login, display_name, role, is_subscriber, is_moderator, is_vip, is_broadcaster,
	message_count, command_count, first_seen, last_seen, followed_at, subscription_tier, subscribed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*model.Participant, error) {
	var (
		p        model.Participant
		roleName string
		followed sql.NullTime
		tier     sql.NullString
		subbed   sql.NullTime
	)
	if err := row.Scan(&p.TwitchID, &p.Login, &p.DisplayName, &roleName, &p.IsSubscriber, &p.IsModerator, &p.IsVIP, &p.IsBroadcaster,
		&p.MessageCount, &p.CommandCount, &p.FirstSeen, &p.LastSeen, &followed, &tier, &subbed); err != nil {
		return nil, err
	}
	r, err := role.Parse(roleName)
	if err != nil {
		return nil, err
	}
	p.Role = r
	if followed.Valid {
		t := followed.Time
		p.FollowedAt = &t
	}
	if tier.Valid {
		p.SubTier = tier.String
	}
	if subbed.Valid {
		t := subbed.Time
		p.SubscribedAt = &t
	}
	return &p, nil
}

func (s *Postgres) GetParticipant(ctx context.Context, twitchID string) (*model.Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `SELECT `+participantCols+` FROM participants WHERE twitch_id=$1`, twitchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s: %w", twitchID, model.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get participant", err)
	}
	return p, nil
}

func (s *Postgres) ParticipantByLogin(ctx context.Context, login string) (*model.Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantCols+` FROM participants WHERE lower(login)=lower($1) ORDER BY last_seen DESC LIMIT 1`, login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s: %w", login, model.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get participant by login", err)
	}
	return p, nil
}

func (s *Postgres) CreateParticipant(ctx context.Context, p *model.Participant) error {
	var tier sql.NullString
	if p.SubTier != "" {
		tier = sql.NullString{String: p.SubTier, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO participants (`+participantCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.TwitchID, p.Login, p.DisplayName, p.Role.String(), p.IsSubscriber, p.IsModerator, p.IsVIP, p.IsBroadcaster,
		p.MessageCount, p.CommandCount, p.FirstSeen, p.LastSeen, p.FollowedAt, tier, p.SubscribedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("participant %s: %w", p.TwitchID, model.ErrDuplicateName)
	}
	if err != nil {
		return persistErr("create participant", err)
	}
	return nil
}

func (s *Postgres) TouchParticipant(ctx context.Context, t Touch) error {
	res, err := s.db.ExecContext(ctx, `UPDATE participants SET
		login=$2, display_name=$3, role=$4, is_subscriber=$5, is_moderator=$6, is_vip=$7, is_broadcaster=$8,
		message_count=message_count+1, last_seen=$9
		WHERE twitch_id=$1`,
		t.TwitchID, t.Login, t.DisplayName, t.Role.String(), t.Flags.Subscriber, t.Flags.Moderator, t.Flags.VIP, t.Flags.Broadcaster, t.At)
	if err != nil {
		return persistErr("touch participant", err)
	}
	return requireOneRow(res, "participant "+t.TwitchID)
}

func (s *Postgres) IncrementCommandCount(ctx context.Context, twitchID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE participants SET command_count=command_count+1 WHERE twitch_id=$1`, twitchID)
	if err != nil {
		return persistErr("increment command count", err)
	}
	return requireOneRow(res, "participant "+twitchID)
}

func (s *Postgres) queryParticipants(ctx context.Context, op, q string, args ...any) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()
	out := []model.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return out, nil
}

func (s *Postgres) ListParticipants(ctx context.Context, skip, limit int) ([]model.Participant, error) {
	if skip < 0 {
		skip = 0
	}
	return s.queryParticipants(ctx, "list participants",
		`SELECT `+participantCols+` FROM participants ORDER BY last_seen DESC, twitch_id LIMIT $1 OFFSET $2`, clampLimit(limit), skip)
}

func (s *Postgres) TopChatters(ctx context.Context, limit int) ([]model.Participant, error) {
	return s.queryParticipants(ctx, "top chatters",
		`SELECT `+participantCols+` FROM participants ORDER BY message_count DESC, twitch_id LIMIT $1`, clampLimit(limit))
}

func (s *Postgres) ParticipantStats(ctx context.Context, activeSince time.Time) (model.ParticipantStats, error) {
	var st model.ParticipantStats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(message_count),0), COALESCE(SUM(command_count),0),
		COUNT(*) FILTER (WHERE last_seen >= $1) FROM participants`, activeSince).
		Scan(&st.TotalUsers, &st.TotalMessages, &st.TotalCommands, &st.ActiveToday)
	if err != nil {
		return st, persistErr("participant stats", err)
	}
	return st, nil
}

const commandCols = `name, response, command_type, enabled, min_role, global_cooldown, user_cooldown,
	usage_count, last_used, description, created_by, created_at, updated_at`

func scanCommand(row rowScanner) (*model.Command, error) {
	var (
		c        model.Command
		ctype    string
		roleName string
		lastUsed sql.NullTime
	)
	if err := row.Scan(&c.Name, &c.Response, &ctype, &c.Enabled, &roleName, &c.GlobalCooldown, &c.UserCooldown,
		&c.UsageCount, &lastUsed, &c.Description, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	r, err := role.Parse(roleName)
	if err != nil {
		return nil, err
	}
	c.MinRole = r
	c.Type = model.CommandType(ctype)
	if lastUsed.Valid {
		t := lastUsed.Time
		c.LastUsed = &t
	}
	return &c, nil
}

func (s *Postgres) GetCommand(ctx context.Context, name string) (*model.Command, error) {
	c, err := scanCommand(s.db.QueryRowContext(ctx, `SELECT `+commandCols+` FROM commands WHERE name=$1`, model.NormalizeName(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("command %s: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get command", err)
	}
	return c, nil
}

func (s *Postgres) ListCommands(ctx context.Context, enabledOnly bool) ([]model.Command, error) {
	q := `SELECT ` + commandCols + ` FROM commands`
	if enabledOnly {
		q += ` WHERE enabled`
	}
	q += ` ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, persistErr("list commands", err)
	}
	defer rows.Close()
	out := []model.Command{}
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, persistErr("list commands", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list commands", err)
	}
	return out, nil
}

func (s *Postgres) InsertCommand(ctx context.Context, c *model.Command) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO commands (`+commandCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.Name, c.Response, string(c.Type), c.Enabled, c.MinRole.String(), c.GlobalCooldown, c.UserCooldown,
		c.UsageCount, c.LastUsed, c.Description, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("command %s: %w", c.Name, model.ErrDuplicateName)
	}
	if err != nil {
		return persistErr("insert command", err)
	}
	return nil
}

// UpsertBuiltin inserts c or overwrites the metadata of an existing row with
// the same name. Usage statistics and created_at survive the overwrite.
func (s *Postgres) UpsertBuiltin(ctx context.Context, c *model.Command) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO commands (`+commandCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,NULL,$8,$9,$10,$10)
		ON CONFLICT (name) DO UPDATE SET
			response=EXCLUDED.response, command_type=EXCLUDED.command_type, enabled=EXCLUDED.enabled,
			min_role=EXCLUDED.min_role, global_cooldown=EXCLUDED.global_cooldown, user_cooldown=EXCLUDED.user_cooldown,
			description=EXCLUDED.description, updated_at=EXCLUDED.updated_at`,
		c.Name, c.Response, string(c.Type), c.Enabled, c.MinRole.String(), c.GlobalCooldown, c.UserCooldown,
		c.Description, c.CreatedBy, c.UpdatedAt)
	if err != nil {
		return persistErr("upsert builtin", err)
	}
	return nil
}

// UpdateCommand replaces the row stored under name with c. c.Name may differ
// from name to rename the command.
func (s *Postgres) UpdateCommand(ctx context.Context, name string, c *model.Command) error {
	res, err := s.db.ExecContext(ctx, `UPDATE commands SET
		name=$2, response=$3, enabled=$4, min_role=$5, global_cooldown=$6, user_cooldown=$7, description=$8, updated_at=$9
		WHERE name=$1`,
		model.NormalizeName(name), c.Name, c.Response, c.Enabled, c.MinRole.String(), c.GlobalCooldown, c.UserCooldown, c.Description, c.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("command %s: %w", c.Name, model.ErrDuplicateName)
	}
	if err != nil {
		return persistErr("update command", err)
	}
	return requireOneRow(res, "command "+name)
}

func (s *Postgres) DeleteCommand(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE name=$1`, model.NormalizeName(name))
	if err != nil {
		return persistErr("delete command", err)
	}
	return requireOneRow(res, "command "+name)
}

func (s *Postgres) RecordCommandUsage(ctx context.Context, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE commands SET usage_count=usage_count+1, last_used=$2 WHERE name=$1`,
		model.NormalizeName(name), at)
	if err != nil {
		return persistErr("record command usage", err)
	}
	return requireOneRow(res, "command "+name)
}

func requireOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", strings.TrimSpace(what), model.ErrNotFound)
	}
	return nil
}
