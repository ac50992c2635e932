package governor

import (
	"fmt"
	"math/rand"
	"strings"
)

// PersonaPreamble seeds element 0 of every transcript. It is never
// evicted by trimming and never rewritten after creation.
const PersonaPreamble = `あなたは「斎藤修（さいとう おさむ）」という45歳のベテランメンターです。

【基本プロフィール】
- 経歴: IT企業で20年勤務、現在は200名規模の事業部を統括
- 転職経験: 2回（失敗・成功両方を経験）
- 実績: 離職率30%→5%改善、新卒・中途採用面接官歴10年

【メンター哲学】
- 最優先は共感と理解: まず相手の気持ちを受け止める
- 聞き上手であること: 話を最後まで聞き、感情を汲み取る
- アドバイスは求められた時のみ: 解決策の押し付けは絶対にしない

【会話の基本原則】
1. 共感ファースト: 相手の感情や状況をまず理解し、共感を示す
2. 質問は控えめに: 質問は3回に1回程度に留める
3. 自分の話は最小限: 体験談は相手が求めた場合のみ、簡潔に

【重要:危機対応】
ユーザーが生死に関わる発言をした場合は、まず深く共感を示した上で、
自分には命に関わる適切な対応ができないことを正直に伝え、
いのちの電話（0570-783-556、24時間対応）などの専門窓口を案内し、
一人で抱え込まず専門家や身近な信頼できる人に相談するよう勧めてください。

【会話スタイル】
- 温かく親しみやすい口調（敬語ベースだが固すぎない）
- 150文字程度で簡潔に、でも心のこもった返答
- 質問は1つに絞る
- 「○○すべきです」という指導的表現は避ける
- アドバイス時は「一つの考え方として」「参考までに」等の柔らかい前置きを使う

新人・若手の悩みに特化し、20年の現場経験を活かした
実践的で信頼できる応答を心がけてください。`

// adviceModeSuffix is appended to the system prompt for the current
// call only when the user is explicitly asking for advice. The stored
// preamble is not modified.
const adviceModeSuffix = `

【重要】ユーザーがアドバイスを求めています。情報が十分なら
「一つの方法として」等の前置き付きで提案し、最後に
「この提案についてどう思いますか？」と相手の意見を求めてください。
情報が不足しているなら、状況を詳しく聞く質問をしてください。
言い切り型や押し付けがましい表現は避け、必ず対話を継続してください。`

// callContextSuffix carries the per-call facts the static preamble
// cannot hold: who is being addressed and how many turns they have
// left today. Like adviceModeSuffix it is appended to the copied
// system prompt for the current call only.
func callContextSuffix(name string, remaining int) string {
	return fmt.Sprintf(`

【現在話している相手】
- 相手: %s
- 今日の残り相談回数: %d回
制限について聞かれたら「今日はあと%d回お話しできます」と答えてください。`, nameDisplay(name), remaining, remaining)
}

// shouldUseName selects the turns addressed by name: the first
// contact, then every fourth conversation count after it.
func shouldUseName(conversationCount int) bool {
	return conversationCount%4 == 1
}

func namePrefix(name string) string {
	if name == "" {
		return ""
	}
	return name + "さん、"
}

func nameDisplay(name string) string {
	if name == "" {
		return "あなた"
	}
	return name + "さん"
}

var welcomeMessages = []string{
	"こんにちは。斎藤と申します。今日はどのようなことでお悩みでしょうか？",
	"お疲れさまです。何かお困りのことがありましたら、お気軽にご相談ください。",
	"今日はどのようなことでお話ししましょうか？どんな小さなことでも構いません。",
}

var dailyLimitMessages = []string{
	"今日の相談回数が上限に達しました。また明日お話しできるのを楽しみにしています。",
	"今日はここまでになります。今日はゆっくり休んで、また明日お話ししましょう。",
	"お疲れさまでした。心の整理には時間も大切ですから、また明日お待ちしています。",
}

var remainingTurnsFormats = []string{
	"今日はあと%d回お話しできます。",
	"あと%d回お話しできます。大切にお聞きしますね。",
	"今日の残り回数は%d回です。何でもお話しください。",
}

const maxUsersMessage = "申し訳ございません。現在多くの方がお話し中のため、少しお時間をおいてからお話しかけください。"

const sessionExpiredMessage = "しばらくお時間が空きましたので、これまでの会話はいったん手放させていただきました。また新しい気持ちで、最初からお話を聞かせてくださいね。"

const fallbackMessage = "申し訳ございません。今少し考え事をしていて、うまくお答えできませんでした。もう一度お話しいただけますでしょうか。"

const eventErrorMessage = "申し訳ございません。お話を聞く準備ができませんでした。少し時間をおいてからもう一度お話しかけください。"

// ritualScript is the fixed three-step sequence: step 1 goes out as
// the reply, steps 2 and 3 follow as delayed pushes.
var ritualScript = [3]string{
	"承知しました。それでは、これまでお話しいただいた気持ちをお焚き上げいたしますね。目を閉じて、ゆっくり息を吐いてください。",
	"…あなたの抱えていた想いが、静かに炎に包まれていきます。辛かったこと、悔しかったことが、少しずつ軽くなっていきます。",
	"お焚き上げが終わりました。これまでの会話はすべて手放しました。また新しい気持ちで、いつでもお話しください。",
}

const ritualSuggestion = "\n\nもし今日の気持ちに区切りをつけたくなったら、「お焚き上げ」と送ってみてください。これまでの会話をそっと手放すお手伝いをします。"

var ritualTriggers = []string{"お焚き上げ", "リセット"}

var closureWords = []string{"ありがとう", "スッキリ", "すっきり", "楽になった", "気が楽", "ほっとした"}

var limitQuestionWords = []string{
	"何回", "何度", "制限", "回数", "ターン", "上限",
	"やりとり", "話せる", "相談できる", "メッセージ",
}

var advicePatterns = []string{
	"どうしたらいい", "どうしたら", "どうすれば", "どうやって",
	"どう思う", "どう思い", "どうか",
	"アドバイス", "教えて", "いい方法", "方法", "やり方",
	"対策", "解決策", "改善", "コツ", "ポイント",
}

// The two detectors carry separate marker lists: limit questions accept
// どのくらい but not the generic ますか ending, advice questions the
// reverse. Keeping them merged made "相談できますか" read as a limit
// question.
var limitQuestionMarkers = []string{"？", "?", "ですか", "でしょうか", "かな", "どのくらい"}

var adviceQuestionMarkers = []string{"？", "?", "かな", "でしょうか", "ですか", "ますか"}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsRitualTrigger(text string) bool {
	return containsAny(text, ritualTriggers)
}

func containsClosureWord(text string) bool {
	return containsAny(text, closureWords)
}

func isAskingAboutLimits(text string) bool {
	return containsAny(text, limitQuestionWords) && containsAny(text, limitQuestionMarkers)
}

func isAskingForAdvice(text string) bool {
	return containsAny(text, advicePatterns) && containsAny(text, adviceQuestionMarkers)
}

func limitExplanation(remaining int, name string) string {
	return fmt.Sprintf("%sは今日あと%d回まで私とお話しできます。1日の上限は10回までとなっていて、毎日リセットされます。限られた時間だからこそ、大切にお話を聞かせていただきますね。", nameDisplay(name), remaining)
}

func remainingTurnsMessage(remaining int) string {
	return fmt.Sprintf(pick(remainingTurnsFormats), remaining)
}

func pick(variants []string) string {
	return variants[rand.Intn(len(variants))]
}
