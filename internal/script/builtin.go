package script

import "fmt"

// Builtin returns the registry of shipped role-play scenarios. The job
// interview scenario is first and therefore the fallback.
func Builtin() *Registry {
	r, err := NewRegistry(jobInterview(), restaurant())
	if err != nil {
		panic(err)
	}
	return r
}

func pair(tutor, expected string) TurnPair {
	return TurnPair{
		Tutor:    func(string) string { return tutor },
		Expected: func(string) string { return expected },
	}
}

func jobInterview() Scenario {
	return Scenario{
		ID:    "jobInterview",
		Title: "Job Interview",
		Levels: []Level{
			{
				ID:    "beginner",
				Title: "Beginner",
				Turns: []TurnPair{
					{
						Tutor: func(name string) string {
							return fmt.Sprintf("Good morning %s, thank you for coming in today. Could you tell me a little about yourself?", name)
						},
						Expected: func(string) string {
							return "Good morning, thank you for having me. I am a marketing specialist with three years of experience."
						},
					},
					pair(
						"What do you consider your greatest strength?",
						"I would say my greatest strength is communication. I enjoy working with people.",
					),
					pair(
						"Why do you want to work with us?",
						"I admire your company culture and I believe I can grow here.",
					),
				},
			},
			{
				ID:    "intermediate",
				Title: "Intermediate",
				Turns: []TurnPair{
					{
						Tutor: func(name string) string {
							return fmt.Sprintf("Welcome back %s. Can you walk me through a project you are proud of?", name)
						},
						Expected: func(string) string {
							return "Last year I led a campaign that increased our engagement by thirty percent."
						},
					},
					pair(
						"How do you handle tight deadlines?",
						"I prioritize tasks early and keep the team informed about progress.",
					),
					pair(
						"Tell me about a time you disagreed with a colleague.",
						"We discussed our points of view calmly and found a compromise that worked for both of us.",
					),
					pair(
						"Where do you see yourself in five years?",
						"I would like to lead a small team and mentor junior colleagues.",
					),
				},
			},
			{
				ID:    "advanced",
				Title: "Advanced",
				Turns: []TurnPair{
					{
						Tutor: func(name string) string {
							return fmt.Sprintf("%s, suppose your main stakeholder rejects your proposal a week before launch. What do you do?", name)
						},
						Expected: func(string) string {
							return "I would schedule a meeting immediately to understand their concerns and renegotiate the scope."
						},
					},
					pair(
						"How would you justify the budget increase to the board?",
						"I would present the projected return on investment backed by last quarter's data.",
					),
					pair(
						"What would you change about our current product strategy?",
						"I would focus on retention before acquisition, since loyal customers drive sustainable growth.",
					),
					pair(
						"Do you have any questions for me?",
						"Yes, could you describe what success looks like for this role in the first six months?",
					),
				},
			},
		},
	}
}

func restaurant() Scenario {
	return Scenario{
		ID:    "restaurant",
		Title: "At the Restaurant",
		Levels: []Level{
			{
				ID:    "beginner",
				Title: "Beginner",
				Turns: []TurnPair{
					{
						Tutor: func(name string) string {
							return fmt.Sprintf("Good evening %s, welcome! A table for how many?", name)
						},
						Expected: func(string) string {
							return "Good evening, a table for two please."
						},
					},
					pair(
						"Here is the menu. Can I get you something to drink?",
						"I would like a glass of still water, thank you.",
					),
					pair(
						"Are you ready to order?",
						"Yes, I will have the grilled salmon with vegetables.",
					),
				},
			},
			{
				ID:    "intermediate",
				Title: "Intermediate",
				Turns: []TurnPair{
					pair(
						"Would you like to hear today's specials?",
						"Yes please, and could you tell me if any of them are vegetarian?",
					),
					pair(
						"How would you like your steak cooked?",
						"Medium rare, please, and could I have the sauce on the side?",
					),
					pair(
						"Was everything to your liking?",
						"It was delicious, but I think there is a mistake on the bill.",
					),
				},
			},
		},
	}
}
