package model

// Evaluation is the score record attached to a completed session.
type Evaluation struct {
	TotalScore      int      `json:"total_score" bson:"total_score"`
	Professionalism int      `json:"professionalism" bson:"professionalism"`
	Communication   int      `json:"communication" bson:"communication"`
	ProblemSolving  int      `json:"problem_solving" bson:"problem_solving"`
	ServiceAttitude int      `json:"service_attitude" bson:"service_attitude"`
	Strengths       []string `json:"strengths" bson:"strengths"`
	Improvements    []string `json:"improvements" bson:"improvements"`
	OverallComment  string   `json:"overall_comment" bson:"overall_comment"`
	TargetProduct   string   `json:"target_product" bson:"target_product"`
}

func (e Evaluation) Clone() Evaluation {
	e.Strengths = append([]string(nil), e.Strengths...)
	e.Improvements = append([]string(nil), e.Improvements...)
	return e
}
