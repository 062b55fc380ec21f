package parser

// Speech-recognition hint vocabularies. Numeric and yes/no questions use
// different lists so the recogniser biases toward the expected answer.
var (
	NumericHints = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "沒有", "不痛", "一點點", "還好", "很痛", "嚴重"}
	YesNoHints   = []string{"有", "沒有", "會", "不會", "有發燒", "沒發燒", "正常", "紅腫"}
	ConsentHints = []string{"可以", "好", "方便", "沒問題", "不方便", "改天"}
	ConfirmHints = []string{"好", "謝謝", "再見", "完成"}
)
