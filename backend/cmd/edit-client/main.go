package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/editsession"
)

// 演示客户端：登录、打开一条记录、挂上会话通道、改标题、走冲突检查的保存
// 流程。撞上冲突时全部按默认（保留）提交。

func main() {
	var (
		baseURL    = flag.String("server", "http://127.0.0.1:8085", "edit-server base URL")
		username   = flag.String("user", "", "username")
		password   = flag.String("password", "", "password")
		recordType = flag.String("type", "page", "record type: page | blog_post")
		recordID   = flag.Uint64("id", 0, "record id")
		localeID   = flag.Uint64("locale", 0, "locale id to edit")
		title      = flag.String("title", "", "new title for the locale")
	)
	flag.Parse()

	if *username == "" || *password == "" || *recordID == 0 || *localeID == 0 || *title == "" {
		flag.Usage()
		log.Fatal("user, password, id, locale and title are required")
	}
	rt := conflict.RecordType(*recordType)
	if !rt.Valid() {
		log.Fatalf("invalid record type %q", *recordType)
	}

	ctx := context.Background()
	token, userID, err := login(ctx, *baseURL, *username, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	records := editsession.NewRecordAPI(*baseURL, token, nil)
	rec, err := records.FetchRecord(ctx, rt, *recordID)
	if err != nil {
		log.Fatalf("fetch record failed: %v", err)
	}

	// 基线：进入编辑视图的那一刻
	oracle := editsession.NewOracleClient(*baseURL, token, nil)
	oracle.StartEditing(time.Now())

	wsBase := "ws" + strings.TrimPrefix(*baseURL, "http")
	channel := editsession.NewChannel(editsession.ChannelOptions{
		BaseURL:    wsBase,
		Token:      token,
		RecordType: rt,
		RecordID:   *recordID,
		OnWarning: func(w editsession.Warning) {
			log.Printf("parallel edit warning: %s (editors: %d)", w.Message, w.TotalEditors)
		},
		OnClearWarning: func() {
			log.Printf("all other editors left")
		},
	})
	if err := channel.Connect(ctx); err != nil {
		// 通道是建议性的，连不上不拦编辑
		log.Printf("session channel unavailable: %v", err)
	}
	defer func() {
		channel.Disconnect()
		editsession.SendLeaveBeacon(*baseURL, rt, *recordID, 0, userID)
	}()

	found := false
	for i := range rec.Contents {
		if rec.Contents[i].LocaleID == *localeID {
			rec.Contents[i].Title = *title
			found = true
			break
		}
	}
	if !found {
		log.Fatalf("record has no content for locale %d", *localeID)
	}

	resolver := editsession.NewResolver(records, oracle, editsession.NewLogNotifier())
	saved, err := resolver.Save(ctx, rec)
	if errors.Is(err, editsession.ErrConflictDetected) {
		log.Printf("conflict detected, committing with defaults")
		for {
			saved, err = resolver.Commit(ctx)
			if errors.Is(err, editsession.ErrConflictAgain) {
				// 又变了，拿新快照再提一次
				continue
			}
			break
		}
	}
	if err != nil {
		log.Fatalf("save failed: %v", err)
	}
	log.Printf("saved record %d, last modified by %s at %s",
		saved.ID, saved.LastModifiedBy, saved.LastModifiedAt.Format(time.RFC3339))
}

func login(ctx context.Context, baseURL, username, password string) (token string, userID uint64, err error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("login returned status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		UserID      uint64 `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	return out.AccessToken, out.UserID, nil
}
