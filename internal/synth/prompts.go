package synth

import (
	"fmt"

	"github.com/yoon0701/ZeroGravity/internal/models"
)

// HamSystemPrompt frames the ham generator as a casual Korean writer.
const HamSystemPrompt = "너는 자연스러운 한국어 대화 문장을 만드는 AI야."

const hamPromptTemplate = `
너는 평범한 20~30대 한국인이야. 친구나 지인과 메시지를 주고받듯, 아래 조건에 맞는 자연스러운 톡/문자 메시지 한 문장을 만들어줘.

🧩 조건:
- has_url=%d, has_phone=%d
- 문장 안에 <URL> 또는 <PHONE>이 자연스럽게 포함되어야 해
- 문장은 20자 이상이며, 짧거나 부자연스러운 표현은 피하고 상황이 느껴지는 문장으로 작성해
- 스팸처럼 보이면 안 되고, 정말 누가 보냈을 법한 일상적인 톤으로 써 줘
- 너무 형식적이거나 정보 전달만 하는 문장은 피하고, 감탄사, 말 줄임, 이모티콘, 반복 문자(ㅋㅋ, ㅎㅎ, ~~ 등)도 자유롭게 사용해
- 다양한 말투(예: 반말, 존댓말, 장난스러운 말투 등)를 섞어서 매번 다르게 써줘

📝 예시:
- 사진 여기 올려놨어 <URL> 한 번 봐봐 ㅋㅋㅋ
- 오늘 저녁 약속 그거 <PHONE>으로 전화 와도 받아줭
- 이거 진짜 재밌닼ㅋㅋㅋ 링크 여기 <URL>
- 혹시 길 헷갈리면 이 번호로 연락주셈 <PHONE>

👉 출력은 문장 하나만! 따옴표 없이 자연스럽게 작성해줘.
`

// HamPrompt is the user instruction for one synthetic ham message.
func HamPrompt(cond models.Condition) string {
	return fmt.Sprintf(hamPromptTemplate, cond.HasURL, cond.HasPhone)
}

// SpamSystemPrompt sets the rules every synthetic spam message must follow.
const SpamSystemPrompt = "당신은 '스팸/피싱 탐지 모델' 학습용 합성 데이터 생성기입니다.\n" +
	"- 실제 개인정보/브랜드/회사명/실전화번/실주소 금지. 반드시 <URL>, <PHONE> placeholder만 사용.\n" +
	"- 폭력/혐오/차별/불법 실행 방법 금지. 과장광고/사칭 톤만 허용.\n" +
	"- 채널: SMS. 1~2문장, 전체 60~120자. 문장 끝에 마침표/느낌표 사용.\n" +
	"- 한국어. 자연스럽고 현실적인 구어체로.\n" +
	"- 항목마다 bait 단어(예: 무료/한정/선착순/긴급/혜택/당첨/환급/본인인증/계정정지) 1~2개 포함."

// SpamPrompt is the user instruction for one instruct seed.
func SpamPrompt(instructText string) string {
	return "[instruct_text]\n" + instructText + "\n\n" +
		"- 반드시 <URL> 1개 포함. <PHONE>은 30~50% 확률로 포함.\n" +
		`- JSON만 출력하세요. 스키마: {"items":[{"text":"..."}, ...]}`
}
