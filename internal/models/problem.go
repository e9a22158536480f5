package models

type Problem struct {
	ID     string   `json:"id" db:"id" yaml:"id"`
	Title  string   `json:"title" db:"title" yaml:"title"`
	Rating int      `json:"rating" db:"rating" yaml:"rating"`
	Topics []string `json:"topics" db:"topics" yaml:"topics"`
}

// PrimaryTopic 다양성 계산에 쓰는 대표 토픽
func (p *Problem) PrimaryTopic() string {
	if len(p.Topics) == 0 {
		return ""
	}
	return p.Topics[0]
}
