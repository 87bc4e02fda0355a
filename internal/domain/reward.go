package domain

const BaseReward = 50

type Reward struct {
	Base       int
	Multiplier int
	Total      int
}

func CalculateReward(locationEnabled, uniqueIP bool) Reward {
	multiplier := 1
	switch {
	case locationEnabled && uniqueIP:
		multiplier = 4
	case locationEnabled || uniqueIP:
		multiplier = 2
	}

	return Reward{
		Base:       BaseReward,
		Multiplier: multiplier,
		Total:      BaseReward * multiplier,
	}
}
