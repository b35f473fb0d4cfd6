package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/Dolpheyn/splitje-be/internal/models"
)

const inviteTTL = 24 * time.Hour

// InviteService issues one-time group invite codes, backed by redis with a
// TTL, and renders them as QR images for sharing.
type InviteService struct {
	redis *redis.Client
}

type invitePayload struct {
	GroupID   string `json:"groupId"`
	InvitedBy string `json:"invitedBy"`
	IssuedAt  int64  `json:"issuedAt"`
}

func NewInviteService(redisClient *redis.Client) *InviteService {
	return &InviteService{redis: redisClient}
}

// CreateInvite stores a fresh invite code for the group and returns the code
// together with a base64-encoded QR PNG of it.
func (s *InviteService) CreateInvite(ctx context.Context, groupID, inviterID string) (string, string, error) {
	if s.redis == nil {
		return "", "", fmt.Errorf("invites unavailable: redis not configured")
	}

	code := generateInviteCode()
	payload, err := json.Marshal(invitePayload{
		GroupID:   groupID,
		InvitedBy: inviterID,
		IssuedAt:  time.Now().Unix(),
	})
	if err != nil {
		return "", "", err
	}

	key := fmt.Sprintf("invite:%s", code)
	if err := s.redis.Set(ctx, key, payload, inviteTTL).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ResolveInvite consumes an invite code and returns the group it points to.
// Codes are single-use.
func (s *InviteService) ResolveInvite(ctx context.Context, code string) (string, error) {
	if s.redis == nil {
		return "", fmt.Errorf("invites unavailable: redis not configured")
	}

	key := fmt.Sprintf("invite:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return "", fmt.Errorf("%w: invalid or expired invite code", models.ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	var payload invitePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}

	s.redis.Del(ctx, key)

	return payload.GroupID, nil
}

func generateInviteCode() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
