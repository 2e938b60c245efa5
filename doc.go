// Package matchcoordinator 是多人瀏覽器遊戲的即時對局協調服務。
//
// 玩家透過 WebSocket 連到以房間 key 命名的房間，服務負責房間的建立與銷毀、
// 固定時長的對局循環、地圖輪替、訊息轉發，以及失聯連線的清理。
//
// # 房間註冊表
//
// 房間在第一條連線加入時建立，最後一條連線離開時銷毀。
// 銷毀後在鎖外發出持久化刪除與 room_destroyed 事件，失敗只記錄日誌。
//
// # 對局狀態機
//
//   - Waiting：沒有玩家，沒有計時器
//   - InMatch：至少一名玩家，計時器（預設 120 秒）已啟動
//
// 所有玩家完成、計時器到期、或最後一名玩家離開時結束對局。
// 結束時旁觀者升為玩家，地圖權重重置，然後立即開始下一場。
//
// # 訊息處理
//
// 每條連線有固定窗口限流（預設每秒 20 則），超出的訊息直接丟棄。
// 非 JSON 物件的訊息視為格式錯誤並丟棄。
//   - finish：標記完成，不轉發
//   - request_first_map：只回覆給請求者
//   - 其他：轉發給房間內的其他玩家
//
// # 心跳
//
// 每個間隔（預設 30 秒）對所有連線發出 ping。
// 兩次掃描之間沒有回應的連線會被斷開並從房間移除。
//
// # 架構
//
//   - cmd/server：組裝配置、日誌、持久化、事件、指標與 HTTP 路由
//   - internal：Room、Manager、WebSocketHub、Heartbeat、Handler
//   - internal/limiter：固定窗口限流器
//   - internal/store：PostgreSQL 房間記錄與遷移
//   - internal/events：Redis / NATS 生命週期事件
//   - pkg/auth：JWT 身分驗證
//
// 啟動服務器：
//
//	go run ./cmd/server -config config.yaml -log-level debug
//
// 客戶端連接：
//
//	ws://localhost:8080/ws/rooms/{room_key}?player_id=alice
//	ws://localhost:8080/ws/rooms/{room_key}?token=<jwt>
package matchcoordinator
