package dispatch

// Fixed replies. Handlers that fail never improvise a message of their own.
const (
	msgQuotaExceeded  = "⏳ 目前請求太多，額度暫時用完了，請大約 60 秒後再試一次。"
	msgGenericFailure = "😵 抱歉，我剛剛出了點問題，請稍後再試。"
	msgExtractFailed  = "😵 抱歉，我看不太懂，可以換個說法再說一次嗎？"
	msgVoiceFailed    = "😵 語音處理失敗了，請再傳一次。"
	msgPhotoFailed    = "😵 圖片處理失敗了，請再傳一次。"
	msgNewsDisabled   = "📰 新聞功能目前沒有開啟。"
	msgNeedReply      = "請先回覆一則訊息，再輸入 /summary。"

	msgNoFacts    = "🧠 我還沒有記住任何事情喔。"
	msgForgotAll  = "🧹 好的，我把記住的事情都忘掉了。"
	msgNoShopping = "🛒 購物清單是空的。"
	msgNoExpenses = "💰 這個月還沒有記帳。"

	// Prefixes for media replies.
	voicePrefix = "🎙️ "
	photoPrefix = "🖼️ "
)

const helpText = `嗨，我是%s！你可以這樣使用我：

💬 直接聊天（群組裡要叫我的名字）
⚙️ 設定:城市=Edmonton 記住偏好
📝 「記住 ……」讓我記下重要的事
📅 「幫我加到行事曆 ……」新增行程
🛒 「要買牛奶和麵包」加入購物清單
💸 「午餐花了 15 元」記帳
📰 「今天有什麼新聞」

指令：
/memory 我記得的事情
/forget 忘掉所有記憶
/news 立即抓新聞
/events 近期行程
/shopping 購物清單
/bought 買好了，清空清單
/expenses 本月支出
/summary 回覆一則訊息來摘要
/models 可用模型`
