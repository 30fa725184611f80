package blocks

// AddNotification は通知タイプに応じてメッセージに通知を追加する
func AddNotification(message, notificationType string) string {
	switch notificationType {
	case "here":
		return "<!here> " + message
	case "channel":
		return "<!channel> " + message
	case "none":
		return message
	default:
		return message
	}
}

// 重大度からメンションの種類を決める
func NotificationTypeForSeverity(severity, channelFrom, hereFrom int) string {
	switch {
	case channelFrom > 0 && severity >= channelFrom:
		return "channel"
	case hereFrom > 0 && severity >= hereFrom:
		return "here"
	default:
		return "none"
	}
}
