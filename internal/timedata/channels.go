package timedata

// Site-wide channels, averaged over the quarter.
const (
	ChannelGrid         = "_sum/GridActivePower"
	ChannelProduction   = "_sum/ProductionActivePower"
	ChannelConsumption  = "_sum/ConsumptionActivePower"
	ChannelEssDischarge = "_sum/EssDischargePower"
	ChannelEssSoc       = "_sum/EssSoc"
	ChannelEssCapacity  = "_sum/EssCapacity"
)

// PriceChannel holds the price used for each served quarter.
func PriceChannel(componentID string) string {
	return componentID + "/QuarterlyPrices"
}

// StateChannel holds the state served for each quarter.
func StateChannel(componentID string) string {
	return componentID + "/StateMachine"
}
