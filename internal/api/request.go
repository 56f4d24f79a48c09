package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"

	"github.com/npezzotti/tutor-chat/internal/types"
)

const maxBodyBytes = 1 << 20

type formDecoder interface {
	decodeForm(url.Values) error
}

type CreateRoomRequest struct {
	StudentId types.ID `json:"student_id"`
	TeacherId types.ID `json:"teacher_id"`
}

func (req *CreateRoomRequest) decodeForm(v url.Values) (err error) {
	if req.StudentId, err = types.ParseID(v.Get("student_id")); err != nil {
		return err
	}
	req.TeacherId, err = types.ParseID(v.Get("teacher_id"))
	return err
}

// MarkAsReadRequest names the reader teacher_id, as the inbox is read by
// teachers. reader_id is accepted as well.
type MarkAsReadRequest struct {
	RoomId    types.ID `json:"room_id"`
	TeacherId types.ID `json:"teacher_id"`
	ReaderId  types.ID `json:"reader_id"`
}

func (req *MarkAsReadRequest) decodeForm(v url.Values) (err error) {
	if req.RoomId, err = types.ParseID(v.Get("room_id")); err != nil {
		return err
	}
	if req.TeacherId, err = types.ParseID(v.Get("teacher_id")); err != nil {
		return err
	}
	req.ReaderId, err = types.ParseID(v.Get("reader_id"))
	return err
}

func (req *MarkAsReadRequest) readerId() int64 {
	if req.ReaderId != 0 {
		return int64(req.ReaderId)
	}
	return int64(req.TeacherId)
}

type SendMessageRequest struct {
	RoomId   types.ID `json:"room_id"`
	SenderId types.ID `json:"sender_id"`
	Body     string   `json:"message"`
	Name     string   `json:"name"`
	Avatar   string   `json:"avatar"`
}

func (req *SendMessageRequest) decodeForm(v url.Values) (err error) {
	if req.RoomId, err = types.ParseID(v.Get("room_id")); err != nil {
		return err
	}
	if req.SenderId, err = types.ParseID(v.Get("sender_id")); err != nil {
		return err
	}
	req.Body = v.Get("message")
	req.Name = v.Get("name")
	req.Avatar = v.Get("avatar")
	return nil
}

// decodeRequest reads a JSON or form encoded body into req.
func decodeRequest(w http.ResponseWriter, r *http.Request, req formDecoder) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType := ""
	if ct := r.Header.Get("Content-Type"); ct != "" {
		var err error
		if mediaType, _, err = mime.ParseMediaType(ct); err != nil {
			return fmt.Errorf("content type: %w", err)
		}
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("parse form: %w", err)
		}
		return req.decodeForm(r.PostForm)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return fmt.Errorf("parse multipart form: %w", err)
		}
		return req.decodeForm(r.PostForm)
	}

	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
