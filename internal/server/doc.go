// Package server は撮影ステーションのHTTP APIを提供します。
//
// 責務:
//   - カメラセッションの操作 (取得・撮影・ズーム・フォーカス・向き切替・解放)
//   - プレビューのMJPEG配信
//   - 車両ごとの撮影ワークフローの操作と撮影済み画像の配信
//   - 4方向アップロードの進捗をServer-Sent Eventsで配信
//   - リモート画像ストアの閲覧結果の中継
//
// 仕様:
//   - ginをリリースモードで使い、アクセスログはzapで出力する
//   - カメラ取得の失敗は 503/403/422 と retryable を返し、ワークフローには影響しない
//   - グレースフルシャットダウン時にカメラを解放する
package server
