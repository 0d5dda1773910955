package cache

import "fmt"

// 键语义：
// - roomKey(session):            会话候选编辑者集合（Set<userId>）
// - editorKey(session,userID):   编辑者心跳键（String，占位"1"，带 TTL）
// - namesKey(session):           会话内 userId→username 映射（Hash）
//
// session 即 record_type:record_id[:content_id]，由 ws 层拼好传入。

const (
	keyRoomFmt   = "editsession:room:%s"      // Set<userId>
	keyEditorFmt = "editsession:editor:%s:%d" // String "1" with TTL
	keyNamesFmt  = "editsession:names:%s"     // Hash<userId -> username>
)

func roomKey(session string) string { return fmt.Sprintf(keyRoomFmt, session) }
func editorKey(session string, userID uint64) string {
	return fmt.Sprintf(keyEditorFmt, session, userID)
}
func namesKey(session string) string { return fmt.Sprintf(keyNamesFmt, session) }
