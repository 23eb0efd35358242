package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkin_messenger/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func valBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Repo implements RoomRegistry, SettingsStore and MessageLog on MySQL.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

type scanner interface {
	Scan(dest ...any) error
}

func scanHotel(s scanner) (domain.Hotel, error) {
	var h domain.Hotel
	var addr, phone, email, desc sql.NullString
	if err := s.Scan(&h.ID, &h.Name, &addr, &phone, &email, &desc); err != nil {
		return domain.Hotel{}, err
	}
	h.Address, h.Phone, h.Email, h.Description = nullStr(addr), nullStr(phone), nullStr(email), nullStr(desc)
	return h, nil
}

func scanRoom(s scanner) (domain.Room, error) {
	var r domain.Room
	var wa sql.NullString
	if err := s.Scan(&r.ID, &r.HotelID, &r.Name, &r.CalendarURL, &wa, &r.TemplateName); err != nil {
		return domain.Room{}, err
	}
	r.WhatsAppNumber = nullStr(wa)
	return r, nil
}

func (r *Repo) ListHotels(ctx context.Context) ([]domain.Hotel, error) {
	rows, err := r.db.QueryContext(ctx, listHotelsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Hotel
	for rows.Next() {
		h, err := scanHotel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repo) GetHotelByID(ctx context.Context, id int64) (domain.Hotel, error) {
	h, err := scanHotel(r.db.QueryRowContext(ctx, getHotelSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Hotel{}, fmt.Errorf("hotel %d: %w", id, domain.ErrNotFound)
	}
	return h, err
}

func (r *Repo) ListRooms(ctx context.Context, hotelID int64) ([]domain.Room, error) {
	rows, err := r.db.QueryContext(ctx, listRoomsSQL, hotelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func (r *Repo) GetRoom(ctx context.Context, id int64) (domain.Room, error) {
	rm, err := scanRoom(r.db.QueryRowContext(ctx, getRoomSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, fmt.Errorf("room %d: %w", id, domain.ErrNotFound)
	}
	return rm, err
}

// GetRoomSettings returns the room's settings, creating the default row on
// first read.
func (r *Repo) GetRoomSettings(ctx context.Context, roomID int64) (domain.RoomSettings, error) {
	st, err := r.readSettings(ctx, roomID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.RoomSettings{}, err
	}
	if _, err := r.GetRoom(ctx, roomID); err != nil {
		return domain.RoomSettings{}, err
	}
	def := domain.DefaultRoomSettings(roomID)
	if _, err := r.db.ExecContext(ctx, insertDefaultSettingsSQL, roomID, def.AutoSend, def.SendTime); err != nil {
		return domain.RoomSettings{}, err
	}
	return r.readSettings(ctx, roomID)
}

func (r *Repo) readSettings(ctx context.Context, roomID int64) (domain.RoomSettings, error) {
	var st domain.RoomSettings
	var tpl sql.NullString
	err := r.db.QueryRowContext(ctx, getSettingsSQL, roomID).Scan(&st.RoomID, &st.AutoSend, &st.SendTime, &tpl)
	if err != nil {
		return domain.RoomSettings{}, err
	}
	st.TemplateName = nullStr(tpl)
	return st, nil
}

func (r *Repo) UpdateRoomSettings(ctx context.Context, roomID int64, u domain.SettingsUpdate) (domain.RoomSettings, error) {
	u, err := u.Normalize()
	if err != nil {
		return domain.RoomSettings{}, err
	}
	if _, err := r.GetRoom(ctx, roomID); err != nil {
		return domain.RoomSettings{}, err
	}
	// an empty template clears the override
	var tpl any
	if u.TemplateName != nil && *u.TemplateName != "" {
		tpl = *u.TemplateName
	}
	_, err = r.db.ExecContext(ctx, upsertSettingsSQL,
		roomID, valBool(u.AutoSend), valStr(u.SendTime), tpl,
		valBool(u.AutoSend), valStr(u.SendTime), u.TemplateName != nil,
	)
	if err != nil {
		return domain.RoomSettings{}, err
	}
	return r.readSettings(ctx, roomID)
}

func (r *Repo) RecordSent(ctx context.Context, m domain.MessageRecord) error {
	_, err := r.db.ExecContext(ctx, insertMessageSQL,
		m.HotelID, m.RoomID, m.ReservationID, m.SentDate, m.TemplateName, m.Status, m.Content)
	return err
}

func filterArgs(q domain.MessageQuery) []any {
	return []any{
		valInt64(q.HotelID), valInt64(q.HotelID),
		valInt64(q.RoomID), valInt64(q.RoomID),
		valStr(q.StartDate), valStr(q.StartDate),
		valStr(q.EndDate), valStr(q.EndDate),
	}
}

func (r *Repo) ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.MessageRecord, error) {
	rows, err := r.db.QueryContext(ctx, listMessagesSQL, filterArgs(q)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.MessageRecord{}
	for rows.Next() {
		var m domain.MessageRecord
		if err := rows.Scan(&m.ID, &m.HotelID, &m.RoomID, &m.ReservationID, &m.SentDate, &m.TemplateName, &m.Status, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repo) MessageStats(ctx context.Context, q domain.MessageQuery) ([]domain.MessageStat, error) {
	rows, err := r.db.QueryContext(ctx, messageStatsSQL, filterArgs(q)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.MessageStat{}
	for rows.Next() {
		var s domain.MessageStat
		if err := rows.Scan(&s.HotelID, &s.HotelName, &s.TotalMessages); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
