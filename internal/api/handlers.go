package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/tutor-chat/internal/chat"
	"github.com/npezzotti/tutor-chat/internal/server"
	"github.com/npezzotti/tutor-chat/internal/types"
)

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("json encode")
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, r *http.Request, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.WithError(errResp).WithField("path", r.URL.Path).Error("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, NewBadRequestError())
		return
	}

	roomId, err := s.svc.GetOrCreateRoom(r.Context(), int64(req.StudentId), int64(req.TeacherId))
	if err != nil {
		s.writeError(w, r, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]int64{"room_id": roomId})
}

func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	roomId, err := types.ParseID(r.PathValue("room_id"))
	if err != nil {
		s.writeError(w, r, NewValidationError(err))
		return
	}

	messages, err := s.svc.GetHistory(r.Context(), int64(roomId))
	if err != nil {
		s.writeError(w, r, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ChatApp) getStudentsChats(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListInboxEntries(r.Context(), s.systemSenderId)
	if err != nil {
		s.writeError(w, r, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusOK, entries)
}

func (s *ChatApp) markAsRead(w http.ResponseWriter, r *http.Request) {
	var req MarkAsReadRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, NewBadRequestError())
		return
	}

	updated, err := s.svc.MarkAsRead(r.Context(), int64(req.RoomId), req.readerId())
	if err != nil {
		s.writeError(w, r, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success": true,
		"updated": updated,
	})
}

func (s *ChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, NewBadRequestError())
		return
	}

	// The request context only bounds the write; once the message is
	// stored, delivery to subscribers happens regardless of the client.
	msg, err := s.svc.SendMessage(r.Context(), chat.SendMessageParams{
		RoomId:   int64(req.RoomId),
		SenderId: int64(req.SenderId),
		Body:     req.Body,
		Name:     req.Name,
		Avatar:   req.Avatar,
	})
	if err != nil {
		s.writeError(w, r, toApiError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"success": "message sent successfully",
		"message": msg,
	})
}

func (s *ChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.anyOrigin {
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("error upgrading connection")
		return
	}

	client, err := server.NewClient(conn, s.cs, s.svc, s.log)
	if err != nil {
		s.log.WithError(err).Error("create client")
		conn.Close()
		return
	}

	if err := s.cs.RegisterClient(client); err != nil {
		s.log.WithError(err).Warn("register client")
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
