package mysql

const listHotelsSQL = `
SELECT id, name, address, phone, email, description
FROM hotels
ORDER BY id
`

const getHotelSQL = `
SELECT id, name, address, phone, email, description
FROM hotels
WHERE id = ?
`

const listRoomsSQL = `
SELECT id, hotel_id, name, calendar_url, whatsapp_number, template_name
FROM rooms
WHERE hotel_id = ?
ORDER BY id
`

const getRoomSQL = `
SELECT id, hotel_id, name, calendar_url, whatsapp_number, template_name
FROM rooms
WHERE id = ?
`

const getSettingsSQL = `
SELECT room_id, auto_send, send_time, template_name
FROM room_settings
WHERE room_id = ?
`

// INSERT IGNORE keeps a concurrent first read from failing on the primary key.
const insertDefaultSettingsSQL = `
INSERT IGNORE INTO room_settings (room_id, auto_send, send_time)
VALUES (?, ?, ?)
`

// COALESCE keeps the stored value for fields the caller left unset.
const upsertSettingsSQL = `
INSERT INTO room_settings (room_id, auto_send, send_time, template_name)
VALUES (?, COALESCE(?, 1), COALESCE(?, '11:00:00'), ?)
ON DUPLICATE KEY UPDATE
  auto_send     = COALESCE(?, auto_send),
  send_time     = COALESCE(?, send_time),
  template_name = IF(?, VALUES(template_name), template_name)
`

const insertMessageSQL = `
INSERT INTO messages_sent
  (hotel_id, room_id, reservation_id, sent_date, template_name, status, content)
VALUES
  (?, ?, ?, ?, ?, ?, ?)
`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

// Optional filters: NULL parameters disable their predicate.
const listMessagesSQL = `
SELECT id, hotel_id, room_id, reservation_id, sent_date, template_name, status, content
FROM messages_sent
WHERE (? IS NULL OR hotel_id = ?)
  AND (? IS NULL OR room_id = ?)
  AND (? IS NULL OR sent_date >= ?)
  AND (? IS NULL OR sent_date <= ?)
ORDER BY sent_date DESC, id DESC
LIMIT 1000
`

const messageStatsSQL = `
SELECT m.hotel_id, COALESCE(h.name, '(unknown)'), COUNT(*)
FROM messages_sent m
LEFT JOIN hotels h ON h.id = m.hotel_id
WHERE (? IS NULL OR m.hotel_id = ?)
  AND (? IS NULL OR m.room_id = ?)
  AND (? IS NULL OR m.sent_date >= ?)
  AND (? IS NULL OR m.sent_date <= ?)
GROUP BY m.hotel_id, h.name
ORDER BY m.hotel_id
`
