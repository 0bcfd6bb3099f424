package domain

// Category is the fault sub-type assigned by classification.
type Category string

const (
	CategoryRoadDamage          Category = "ROAD_DAMAGE"
	CategoryLighting            Category = "LIGHTING"
	CategoryWaterSewer          Category = "WATER_SEWER"
	CategoryParkMaintenance     Category = "PARK_MAINTENANCE"
	CategoryGraffitiVandalism   Category = "GRAFFITI_VANDALISM"
	CategorySnowIce             Category = "SNOW_ICE"
	CategoryTrafficSigns        Category = "TRAFFIC_SIGNS"
	CategoryPlaygroundEquipment Category = "PLAYGROUND_EQUIPMENT"
	CategoryWasteLittering      Category = "WASTE_LITTERING"
	CategorySidewalkCycling     Category = "SIDEWALK_CYCLING"
	CategoryOther               Category = "OTHER"
)

// DefaultCategory is used whenever classification is unavailable.
const DefaultCategory = CategoryOther

// Categories is the closed category set, in match priority order.
var Categories = []Category{
	CategoryRoadDamage,
	CategoryLighting,
	CategoryWaterSewer,
	CategoryParkMaintenance,
	CategoryGraffitiVandalism,
	CategorySnowIce,
	CategoryTrafficSigns,
	CategoryPlaygroundEquipment,
	CategoryWasteLittering,
	CategorySidewalkCycling,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

func (c Category) MarshalText() ([]byte, error) { return []byte(string(c)), nil }
