// Package camera ライブカメラの取得と静止画の撮影を担う
//
// # 責務
// - 端末種別に応じた解像度・向きの方針 (ResolutionPolicy) の決定
// - デバイスハンドルの取得と解放 (同時に開くハンドルは常に1つ)
// - ネイティブ解像度での静止画撮影と明るさ・コントラスト補正
// - ズーム・一点フォーカス・前後カメラ切り替え
// - プレビューフレームの配信 (最新フレームのみ保持)
//
// # 仕様
// - Session: 状態遷移 Idle → Requesting → Streaming → Closed を管理する
// - Provider: デバイスを開く。V4L2Provider は ffmpeg 経由で USB カメラを使う
// - Discovery: V4L2 デバイスの検出と解像度・コントロール一覧の取得
// - MockProvider: 合成フレームを返すテスト・デモ用実装
//
// # 前提要件
//   - v4l-utils: カメラ名の取得とデバイス制御に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: MJPEG ストリームの取得に使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
